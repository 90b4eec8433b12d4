package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
)

const transcript = "um so basically the french revolution started because uh the common people were taxed really heavily while the nobility paid almost nothing and bread prices kept going up"

// newTestWorkflow disables fidelity sampling; tests that need it override
// w.sample after the setup steps they don't want sampled.
func newTestWorkflow(mock *provider.MockProvider) *Workflow {
	w := New(mock, "", 0.10)
	w.sample = func() float64 { return 0.99 }
	return w
}

func forceSampling(w *Workflow, sampled bool) {
	value := 0.99
	if sampled {
		value = 0.0
	}
	w.sample = func() float64 { return value }
}

func refinedState(t *testing.T, mock *provider.MockProvider, w *Workflow) State {
	t.Helper()
	mock.AddCompletionResponse(provider.MockCompletionResponse(
		"The French Revolution began because common people bore heavy taxes while the nobility paid almost none, and bread prices kept rising."))

	st, resp, err := w.Begin(context.Background(), State{}, transcript, "What caused the French Revolution?")
	require.NoError(t, err)
	require.Equal(t, StatusRefined, st.Status)
	require.NotEmpty(t, resp)
	return st
}

func TestBegin_RefinesTranscript(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)

	assert.Equal(t, transcript, st.OriginalTranscript)
	assert.Equal(t, "What caused the French Revolution?", st.QuestionPrompt)
	assert.NotEmpty(t, st.RefinedAnswer)
	assert.Equal(t, 1, st.IterationCount, "the refine step counts as an iteration")
	assert.Equal(t, 1, st.LLMCallCount)
	assert.Empty(t, st.EditHistory)

	prompt := mock.CompletionCalls[0].Messages[0].Content
	assert.Contains(t, prompt, transcript)
	assert.Contains(t, prompt, "Do not add facts")
	assert.Contains(t, prompt, "What caused the French Revolution?")
}

func TestBegin_RejectsShortTranscript(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)

	st, msg, err := w.Begin(context.Background(), State{}, "too few words", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, StatusValidating, st.Status, "validation failure keeps the thread re-recordable")
	assert.NotEmpty(t, st.ErrorNote)
	assert.Contains(t, msg, "between 5 and 2000 words")
	assert.Empty(t, mock.CompletionCalls, "validation failures must not call the LLM")
	assert.Zero(t, st.LLMCallCount)
}

func TestBegin_RejectsLongTranscript(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)

	long := strings.Repeat("word ", MaxTranscriptWords+1)
	st, _, err := w.Begin(context.Background(), State{}, long, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, StatusValidating, st.Status)
}

func TestBegin_LLMFailureThenRetry(t *testing.T) {
	mock := provider.NewMockProvider("mock").
		AddError(provider.NewProviderError("mock", provider.ErrorCodeServerError, "boom", nil))

	w := newTestWorkflow(mock)

	st, _, err := w.Begin(context.Background(), State{}, transcript, "")
	require.Error(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Empty(t, st.RefinedAnswer)

	mock.Reset()
	mock.AddCompletionResponse(provider.MockCompletionResponse("Refined on retry."))
	st, resp, err := w.Begin(context.Background(), st, transcript, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRefined, st.Status)
	assert.Equal(t, "Refined on retry.", resp)
}

func TestApplyEdit_LLMFailurePreservesAnswerAndAllowsRetry(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)
	refined := st.RefinedAnswer

	mock.Reset()
	mock.AddError(provider.NewProviderError("mock", provider.ErrorCodeTimeout, "deadline", nil))

	st, _, err := w.ApplyEdit(context.Background(), st, "delete the last sentence")
	require.Error(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, refined, st.RefinedAnswer, "prior answer survives the failure")
	assert.Empty(t, st.EditHistory)

	mock.Reset()
	mock.AddCompletionResponse(provider.MockCompletionResponse("Shorter answer."))
	st, resp, err := w.ApplyEdit(context.Background(), st, "delete the last sentence")
	require.NoError(t, err)
	assert.Equal(t, StatusRefined, st.Status)
	assert.Equal(t, "Shorter answer.", resp)
	assert.Empty(t, st.ErrorNote)
}

func TestBegin_IdempotentRetry(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)

	st2, resp, err := w.Begin(context.Background(), st, transcript, "")
	require.NoError(t, err)
	assert.Equal(t, st, st2)
	assert.Equal(t, st.RefinedAnswer, resp)
	assert.Len(t, mock.CompletionCalls, 1, "retry must not re-refine")
}

func TestApplyEdit_AppendsRecord(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)
	before := st.RefinedAnswer

	mock.AddCompletionResponse(provider.MockCompletionResponse(
		"The French Revolution began because commoners bore heavy taxes while the nobility paid almost none, and bread prices kept rising."))

	st, resp, err := w.ApplyEdit(context.Background(), st, "replace 'common people' with 'commoners'")
	require.NoError(t, err)

	assert.Equal(t, StatusRefined, st.Status, "an applied edit settles back into refined")
	assert.Equal(t, 2, st.IterationCount, "refine plus one edit")
	require.Len(t, st.EditHistory, 1)

	rec := st.EditHistory[0]
	assert.Equal(t, EditReplace, rec.ParsedKind)
	assert.Equal(t, before, rec.Before)
	assert.Equal(t, st.RefinedAnswer, rec.After)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Contains(t, resp, "commoners")

	// The transcript never changes
	assert.Equal(t, transcript, st.OriginalTranscript)
}

func TestApplyEdit_ConsecutiveEditsChainSnapshots(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)

	mock.AddCompletionResponse(provider.MockCompletionResponse("Answer after first edit."))
	mock.AddCompletionResponse(provider.MockCompletionResponse("Answer after second edit."))

	st, _, err := w.ApplyEdit(context.Background(), st, "change 'heavy taxes' to 'crushing taxes'")
	require.NoError(t, err)
	st, _, err = w.ApplyEdit(context.Background(), st, "change 'almost none' to 'nearly nothing'")
	require.NoError(t, err)

	require.Len(t, st.EditHistory, 2)
	assert.Equal(t, st.EditHistory[0].After, st.EditHistory[1].Before,
		"each edit's before must equal the previous edit's after")
	assert.Equal(t, "Answer after second edit.", st.RefinedAnswer)
	assert.Equal(t, st.RefinedAnswer, st.EditHistory[1].After)
	assert.Equal(t, 3, st.IterationCount, "refine plus two edits")
}

func TestApplyEdit_RequiresRefinedAnswer(t *testing.T) {
	w := newTestWorkflow(provider.NewMockProvider("mock"))

	_, _, err := w.ApplyEdit(context.Background(), State{}, "remove the last sentence")
	assert.Error(t, err)
}

func TestBegin_SampledFidelityCheck(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	forceSampling(w, true)

	mock.AddCompletionResponse(provider.MockCompletionResponse("The French Revolution began over taxes and bread prices."))
	mock.AddCompletionResponse(provider.MockCompletionResponse("Fidelity Score: 1.0\nViolations:\n- none"))

	st, _, err := w.Begin(context.Background(), State{}, transcript, "")
	require.NoError(t, err)

	require.NotNil(t, st.FidelityScore, "a sampled refine runs the fidelity check too")
	assert.InDelta(t, 1.0, *st.FidelityScore, 1e-9)
	assert.Empty(t, st.FidelityViolations)
	assert.Equal(t, 2, st.LLMCallCount) // refine + fidelity
}

func TestApplyEdit_SampledFidelityCheck(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)
	forceSampling(w, true)

	mock.AddCompletionResponse(provider.MockCompletionResponse("Edited answer."))
	mock.AddCompletionResponse(provider.MockCompletionResponse(
		"Fidelity Score: 0.9\nViolations:\n- mentions the storming of the Bastille, absent from the transcript"))

	st, _, err := w.ApplyEdit(context.Background(), st, "rephrase the opening")
	require.NoError(t, err)

	require.NotNil(t, st.FidelityScore)
	assert.InDelta(t, 0.9, *st.FidelityScore, 1e-9)
	require.Len(t, st.FidelityViolations, 1)
	assert.Contains(t, st.FidelityViolations[0], "Bastille")
	assert.Equal(t, 3, st.LLMCallCount) // refine + edit + fidelity
}

func TestApplyEdit_FidelityFailureNeverBlocks(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)
	forceSampling(w, true)

	// Slot 0 is the edit, slot 1 the fidelity call that fails
	mock.Reset()
	mock.AddCompletionResponse(provider.MockCompletionResponse("Edited answer."))
	mock.AddError(nil)
	mock.AddError(provider.NewProviderError("mock", provider.ErrorCodeTimeout, "deadline", nil))

	st, resp, err := w.ApplyEdit(context.Background(), st, "shorten the answer")
	require.NoError(t, err, "a failed fidelity check must not fail the edit")
	assert.Equal(t, "Edited answer.", resp)
	assert.Nil(t, st.FidelityScore)
	require.Len(t, st.EditHistory, 1)
}

func TestApplyEdit_NotSampled(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := newTestWorkflow(mock)
	st := refinedState(t, mock, w)

	mock.AddCompletionResponse(provider.MockCompletionResponse("Edited answer."))

	st, _, err := w.ApplyEdit(context.Background(), st, "shorten it")
	require.NoError(t, err)
	assert.Equal(t, 2, st.LLMCallCount, "no fidelity call when not sampled")
	assert.Nil(t, st.FidelityScore)
}

func TestParseEditKind(t *testing.T) {
	tests := []struct {
		command string
		kind    EditKind
	}{
		{"replace 'big' with 'large'", EditReplace},
		{"change the intro to something snappier", EditReplace},
		{"rephrase the second sentence", EditRephrase},
		{"reword that last part", EditRephrase},
		{"add a sentence about taxes", EditAdd},
		{"include the part about bread prices", EditAdd},
		{"delete the last sentence", EditDelete},
		{"take out the bit about nobility", EditDelete},
		{"move the conclusion to the start", EditReorder},
		{"rearrange the paragraphs", EditReorder},
		{"combine the first two sentences", EditCombine},
		{"merge those points", EditCombine},
		{"make it sound more formal", EditGeneral},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, ParseEditKind(tt.command), "command %q", tt.command)
	}
}

func TestParseFidelity(t *testing.T) {
	result, err := parseFidelity("Fidelity Score: 0.85\nViolations:\n- claim A\n- claim B")
	require.NoError(t, err)
	assert.InDelta(t, 0.85, result.Score, 1e-9)
	assert.Equal(t, []string{"claim A", "claim B"}, result.Violations)

	result, err = parseFidelity("Fidelity Score: 1.0\nViolations:\n- none")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.Empty(t, result.Violations)

	// Clamped
	result, err = parseFidelity("Fidelity Score: 1.7")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Score, 1e-9)

	_, err = parseFidelity("I think it looks faithful.")
	assert.Error(t, err)
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, countWords("   "))
	assert.Equal(t, 3, countWords("one  two\nthree"))
}
