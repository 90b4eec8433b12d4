// Package chat implements the grounded Q&A workflow: free-form questions
// answered strictly from the text of one learning document.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
)

const (
	// chatTemperature keeps answers factual without sounding canned
	chatTemperature = 0.4

	// historySummaryDepth is how many recent exchanges get distilled into
	// the prompt as conversation context
	historySummaryDepth = 5

	// maxHistoryEntries bounds stored history growth
	maxHistoryEntries = 40
)

// Exchange is one message in the chat history
type Exchange struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// State is the durable chat thread state
type State struct {
	History []Exchange `json:"history,omitempty"`
}

// Workflow answers document-grounded questions
type Workflow struct {
	llm   provider.Provider
	model string
}

// New creates the chat workflow
func New(llm provider.Provider, model string) *Workflow {
	return &Workflow{llm: llm, model: model}
}

const systemPromptTemplate = `You are a patient tutor helping a student understand a document.

Answer the student's question using ONLY the document text below. If the
document does not contain the answer, say so plainly and do not speculate.
Keep answers concise and conversational.

DOCUMENT TEXT:
%s%s`

// Respond answers one chat turn. The returned state carries the updated
// history; callers persist it wholesale.
func (w *Workflow) Respond(ctx context.Context, st State, query, docText string) (State, string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return st, "", fmt.Errorf("empty query")
	}

	systemPrompt := fmt.Sprintf(systemPromptTemplate, docText, summarizeHistory(st.History))

	resp, err := w.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
		Model:       w.model,
		Temperature: chatTemperature,
	})
	if err != nil {
		return st, "", fmt.Errorf("chat completion: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)

	st.History = append(st.History,
		Exchange{Role: "user", Content: query},
		Exchange{Role: "assistant", Content: answer},
	)
	if len(st.History) > maxHistoryEntries {
		st.History = st.History[len(st.History)-maxHistoryEntries:]
	}

	return st, answer, nil
}

// summarizeHistory distills the most recent exchanges into a short context
// block appended to the system prompt.
func summarizeHistory(history []Exchange) string {
	if len(history) == 0 {
		return ""
	}

	recent := history
	if len(recent) > historySummaryDepth {
		recent = recent[len(recent)-historySummaryDepth:]
	}

	var b strings.Builder
	b.WriteString("\n\nRECENT CONVERSATION:\n")
	for _, ex := range recent {
		role := "Student"
		if ex.Role == "assistant" {
			role = "Tutor"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, ex.Content)
	}
	return b.String()
}
