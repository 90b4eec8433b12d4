// Package quiz implements the multiple-choice quiz state machine: questions
// generated from a document snippet, one evaluate-and-generate-next LLM call
// per answered question, durable state between turns.
package quiz

import "fmt"

// Status is the quiz thread lifecycle state
type Status string

const (
	// StatusAwaitingFirstQuestion means the quiz exists but no question has
	// been generated yet
	StatusAwaitingFirstQuestion Status = "awaiting_first_question"

	// StatusAwaitingAnswer means a question is posed and the next turn is
	// interpreted as an answer
	StatusAwaitingAnswer Status = "awaiting_answer"

	// StatusCompleted is terminal: finished, cancelled, or errored out
	StatusCompleted Status = "completed"
)

// DefaultMaxQuestions bounds quiz length when config does not override it
const DefaultMaxQuestions = 5

// Question is one multiple-choice question
type Question struct {
	QuestionText       string   `json:"question_text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correct_answer_index"`
	Explanation        string   `json:"explanation"`
}

// HistoryEntry records one answered question
type HistoryEntry struct {
	Question        Question `json:"question"`
	UserAnswerIndex int      `json:"user_answer_index"`
	WasCorrect      bool     `json:"was_correct"`
	Feedback        string   `json:"feedback,omitempty"`
}

// State is the durable quiz thread state.
//
// Invariants: Current is non-nil iff Status == awaiting_answer;
// Score <= len(History); History is append-only; DocumentSnippet never
// changes after creation.
type State struct {
	DocumentSnippet string         `json:"document_snippet"`
	History         []HistoryEntry `json:"history,omitempty"`
	Current         *Question      `json:"current,omitempty"`
	Score           int            `json:"score"`
	Status          Status         `json:"status"`
	MaxQuestions    int            `json:"max_questions"`
	LLMCallCount    int            `json:"llm_call_count"`
	FinalSummary    string         `json:"final_summary,omitempty"`
	ErrorNote       string         `json:"error_note,omitempty"`
	Cancelled       bool           `json:"cancelled,omitempty"`
}

// NewState creates a fresh quiz state for a document snippet
func NewState(snippet string, maxQuestions int) State {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	return State{
		DocumentSnippet: snippet,
		Status:          StatusAwaitingFirstQuestion,
		MaxQuestions:    maxQuestions,
	}
}

// Validate checks the state invariants; storage-layer corruption and workflow
// bugs surface here rather than as confusing downstream behavior.
func (s *State) Validate() error {
	switch s.Status {
	case StatusAwaitingFirstQuestion, StatusAwaitingAnswer, StatusCompleted:
	default:
		return fmt.Errorf("invalid quiz status %q", s.Status)
	}

	if (s.Current != nil) != (s.Status == StatusAwaitingAnswer) {
		return fmt.Errorf("current question presence inconsistent with status %q", s.Status)
	}
	if s.Score > len(s.History) {
		return fmt.Errorf("score %d exceeds answered questions %d", s.Score, len(s.History))
	}
	if s.Score < 0 {
		return fmt.Errorf("negative score %d", s.Score)
	}
	return nil
}

// QuestionNumber is the 1-based number of the currently posed question
func (s *State) QuestionNumber() int {
	return len(s.History) + 1
}
