// Package workflow defines the shared turn envelope exchanged between the
// supervisor and the individual workflows.
package workflow

import (
	"github.com/tutorgo-dev/tutorgo/pkg/session"
)

// Commands a client can send explicitly instead of free text routing
const (
	// CommandFormulateAnswer starts or continues an answer-formulation thread
	CommandFormulateAnswer = "formulate_answer"
)

// TurnRequest is one user turn entering the system
type TurnRequest struct {
	// UserID identifies the learner
	UserID string `json:"userId"`

	// ThreadID identifies the conversation thread; empty starts a new thread
	ThreadID string `json:"threadId,omitempty"`

	// DocumentID is the learning material this turn is about; may be empty
	// when the thread already carries one or the query embeds a doc ID
	DocumentID string `json:"documentId,omitempty"`

	// QueryText is the user's message
	QueryText string `json:"queryText"`

	// Command optionally forces a workflow (e.g. CommandFormulateAnswer)
	Command string `json:"command,omitempty"`
}

// TurnResponse is the normalized envelope returned for every turn
type TurnResponse struct {
	// ThreadID is the thread this turn was applied to; callers must carry
	// it into the next turn to stay on the same thread
	ThreadID string `json:"threadId"`

	// WorkflowKind names the workflow that handled the turn
	WorkflowKind session.WorkflowKind `json:"workflowKind"`

	// ResponseText is the user-facing reply
	ResponseText string `json:"responseText"`

	// Quiz progress, populated only for quiz turns
	QuizActive    bool `json:"quizActive,omitempty"`
	QuizComplete  bool `json:"quizComplete,omitempty"`
	QuizCancelled bool `json:"quizCancelled,omitempty"`
	Score         int  `json:"score,omitempty"`
	QuestionCount int  `json:"questionCount,omitempty"`

	// StructuredPayload carries machine-readable turn data (a QuizQuestion
	// or AnswerDraft) so clients don't have to parse ResponseText
	StructuredPayload any `json:"structuredPayload,omitempty"`

	// Error carries a non-fatal, user-visible error note (validation
	// failures, content unavailable); the turn itself still succeeded
	Error string `json:"error,omitempty"`
}

// QuizQuestion is the structured payload for an active quiz turn. It
// deliberately omits the correct answer index.
type QuizQuestion struct {
	QuestionText string   `json:"questionText"`
	Options      []string `json:"options"`
	Number       int      `json:"number"`
}

// AnswerDraft is the structured payload for answer-formulation turns
type AnswerDraft struct {
	RefinedAnswer  string `json:"refinedAnswer"`
	IterationCount int    `json:"iterationCount"`
}
