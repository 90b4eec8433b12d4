package answer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
	"github.com/tutorgo-dev/tutorgo/pkg/observability"
)

const (
	// refineTemperature keeps refinement close to the student's own words
	refineTemperature = 0.3

	// editTemperature keeps edits minimal
	editTemperature = 0.2
)

// ErrValidation marks transcript validation failures; callers surface the
// message to the user instead of retrying.
var ErrValidation = errors.New("validation error")

// Workflow refines and edits student answer transcripts
type Workflow struct {
	llm        provider.Provider
	model      string
	sampleRate float64

	// sample returns a float in [0,1); injectable for deterministic tests
	sample func() float64
}

// New creates the answer-formulation workflow
func New(llm provider.Provider, model string, fidelitySampleRate float64) *Workflow {
	if fidelitySampleRate < 0 || fidelitySampleRate > 1 {
		fidelitySampleRate = DefaultFidelitySampleRate
	}
	return &Workflow{
		llm:        llm,
		model:      model,
		sampleRate: fidelitySampleRate,
		sample:     rand.Float64,
	}
}

const refinePrompt = `A student answered an assignment question out loud; below is the raw speech transcript. Turn it into clear written prose.

Rules:
- Use ONLY the ideas present in the transcript. Do not add facts, examples,
  or conclusions the student did not say.
- Remove filler words and false starts; fix grammar.
- Keep the student's meaning and roughly their level of detail.
%s
TRANSCRIPT:
%s

Respond with the refined answer text only.`

const editPrompt = `A student is editing their refined written answer. Apply their edit command with the smallest possible change.

%s
Use ONLY ideas from the student's original transcript when wording changes.

ORIGINAL TRANSCRIPT:
%s

CURRENT ANSWER:
%s

EDIT COMMAND:
%s

Respond with the full updated answer text only.`

// Begin validates the transcript and produces the first refined answer.
// Re-sending the same transcript to a thread that already refined one is
// idempotent and returns the existing answer.
func (w *Workflow) Begin(ctx context.Context, st State, transcript, questionPrompt string) (State, string, error) {
	if st.RefinedAnswer != "" {
		return st, st.RefinedAnswer, nil
	}

	st.Status = StatusValidating

	wc := countWords(transcript)
	if wc < MinTranscriptWords || wc > MaxTranscriptWords {
		// Validation failures keep the thread in validating so the student
		// can re-record; only LLM failures move it to error
		msg := fmt.Sprintf("Your answer has %d words; it must be between %d and %d words. Please record it again.",
			wc, MinTranscriptWords, MaxTranscriptWords)
		st.ErrorNote = msg
		return st, msg, fmt.Errorf("%w: transcript word count %d outside [%d,%d]",
			ErrValidation, wc, MinTranscriptWords, MaxTranscriptWords)
	}
	st.ErrorNote = ""

	st.OriginalTranscript = strings.TrimSpace(transcript)
	st.QuestionPrompt = strings.TrimSpace(questionPrompt)
	st.Status = StatusRefining

	var promptContext string
	if st.QuestionPrompt != "" {
		promptContext = fmt.Sprintf("\nThe assignment question was: %s\n", st.QuestionPrompt)
	}

	st.LLMCallCount++
	resp, err := w.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf(refinePrompt, promptContext, st.OriginalTranscript)},
		},
		Model:       w.model,
		Temperature: refineTemperature,
	})
	if err != nil {
		st.Status = StatusError
		st.ErrorNote = "refining the answer failed; please try again"
		return st, "", fmt.Errorf("refine transcript: %w", err)
	}

	st.RefinedAnswer = strings.TrimSpace(resp.Content)
	st.IterationCount++
	st.Status = StatusRefined

	w.maybeSampleFidelity(ctx, &st)

	return st, st.RefinedAnswer, nil
}

// ApplyEdit applies one edit command to the refined answer and may run a
// sampled fidelity check on the result.
func (w *Workflow) ApplyEdit(ctx context.Context, st State, command string) (State, string, error) {
	// StatusError with a surviving RefinedAnswer means a previous edit call
	// failed; retrying the same command is allowed
	if st.RefinedAnswer == "" {
		return st, "", fmt.Errorf("no refined answer to edit (status %s)", st.Status)
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return st, "", fmt.Errorf("%w: empty edit command", ErrValidation)
	}

	kind := ParseEditKind(command)
	before := st.RefinedAnswer
	st.Status = StatusEditing

	st.LLMCallCount++
	resp, err := w.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf(editPrompt,
				editInstructions[kind], st.OriginalTranscript, before, command)},
		},
		Model:       w.model,
		Temperature: editTemperature,
	})
	if err != nil {
		st.Status = StatusError
		st.ErrorNote = "applying that edit failed; please try again"
		return st, "", fmt.Errorf("apply edit: %w", err)
	}

	st.RefinedAnswer = strings.TrimSpace(resp.Content)
	st.EditHistory = append(st.EditHistory, EditRecord{
		Command:    command,
		ParsedKind: kind,
		Before:     before,
		After:      st.RefinedAnswer,
		Timestamp:  time.Now().UTC(),
	})
	st.IterationCount++
	st.Status = StatusRefined
	st.ErrorNote = ""

	w.maybeSampleFidelity(ctx, &st)

	return st, st.RefinedAnswer, nil
}

// maybeSampleFidelity rolls the sampling dice after a refine or edit and, if
// selected, runs the fidelity check on the new answer.
func (w *Workflow) maybeSampleFidelity(ctx context.Context, st *State) {
	if w.sample() < w.sampleRate {
		w.runSampledFidelityCheck(ctx, st)
	}
}

// runSampledFidelityCheck records the judgment on the state; failures are
// logged and never affect the edit result.
func (w *Workflow) runSampledFidelityCheck(ctx context.Context, st *State) {
	st.LLMCallCount++
	result, err := w.checkFidelity(ctx, st.OriginalTranscript, st.RefinedAnswer)
	if err != nil {
		log.Printf("[Answer] fidelity check failed: %v", err)
		observability.RecordFidelityCheck("error")
		return
	}

	st.FidelityScore = &result.Score
	st.FidelityViolations = result.Violations

	if len(result.Violations) > 0 {
		log.Printf("[Answer] fidelity check flagged %d violation(s), score %.2f",
			len(result.Violations), result.Score)
		observability.RecordFidelityCheck("fail")
		return
	}
	observability.RecordFidelityCheck("pass")
}

// countWords counts whitespace-separated words
func countWords(s string) int {
	return len(strings.Fields(s))
}
