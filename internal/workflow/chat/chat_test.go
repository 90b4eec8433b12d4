package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
)

const docText = "The mitochondrion is the powerhouse of the cell. It produces ATP through cellular respiration."

func TestRespond_GroundsPromptInDocument(t *testing.T) {
	mock := provider.NewMockProvider("mock").
		AddCompletionResponse(provider.MockCompletionResponse("Mitochondria produce ATP."))

	w := New(mock, "")
	st, answer, err := w.Respond(context.Background(), State{}, "What do mitochondria do?", docText)
	require.NoError(t, err)

	assert.Equal(t, "Mitochondria produce ATP.", answer)
	require.Len(t, mock.CompletionCalls, 1)

	systemMsg := mock.CompletionCalls[0].Messages[0]
	assert.Equal(t, "system", systemMsg.Role)
	assert.Contains(t, systemMsg.Content, docText)
	assert.Contains(t, systemMsg.Content, "ONLY the document text")

	require.Len(t, st.History, 2)
	assert.Equal(t, "user", st.History[0].Role)
	assert.Equal(t, "assistant", st.History[1].Role)
}

func TestRespond_IncludesRecentHistory(t *testing.T) {
	mock := provider.NewMockProvider("mock").
		AddCompletionResponse(provider.MockCompletionResponse("It happens in the inner membrane."))

	prior := State{History: []Exchange{
		{Role: "user", Content: "What do mitochondria do?"},
		{Role: "assistant", Content: "They produce ATP."},
	}}

	w := New(mock, "")
	_, _, err := w.Respond(context.Background(), prior, "Where does that happen?", docText)
	require.NoError(t, err)

	systemMsg := mock.CompletionCalls[0].Messages[0].Content
	assert.Contains(t, systemMsg, "RECENT CONVERSATION")
	assert.Contains(t, systemMsg, "Student: What do mitochondria do?")
	assert.Contains(t, systemMsg, "Tutor: They produce ATP.")
}

func TestRespond_HistoryStaysBounded(t *testing.T) {
	mock := provider.NewMockProvider("mock")
	w := New(mock, "")

	st := State{}
	var err error
	for i := 0; i < maxHistoryEntries; i++ {
		st, _, err = w.Respond(context.Background(), st, "question", docText)
		require.NoError(t, err)
	}

	assert.Len(t, st.History, maxHistoryEntries)
}

func TestRespond_EmptyQuery(t *testing.T) {
	w := New(provider.NewMockProvider("mock"), "")

	_, _, err := w.Respond(context.Background(), State{}, "   ", docText)
	assert.Error(t, err)
}

func TestRespond_ProviderErrorLeavesStateUntouched(t *testing.T) {
	wantErr := provider.NewProviderError("mock", provider.ErrorCodeTimeout, "deadline", nil)
	mock := provider.NewMockProvider("mock").AddError(wantErr)

	prior := State{History: []Exchange{{Role: "user", Content: "hi"}}}

	w := New(mock, "")
	st, _, err := w.Respond(context.Background(), prior, "What is ATP?", docText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, wantErr))
	assert.Len(t, st.History, 1, "history must not grow on a failed turn")
}

func TestSummarizeHistory_Depth(t *testing.T) {
	var history []Exchange
	for i := 0; i < 10; i++ {
		history = append(history, Exchange{Role: "user", Content: strings.Repeat("x", i+1)})
	}

	summary := summarizeHistory(history)
	// Only the last 5 entries appear
	assert.NotContains(t, summary, "Student: xxxx\n")
	assert.Contains(t, summary, "Student: xxxxxxxxxx\n")
}
