// Package session provides durable per-thread conversation state for TutorGo
// workflows. Each thread is permanently bound to one workflow kind; the
// workflow state is persisted as a wholesale JSON snapshot so a turn can be
// resumed on any node after a restart.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkflowKind identifies which workflow owns a thread.
type WorkflowKind string

const (
	// WorkflowChat is the grounded Q&A workflow.
	WorkflowChat WorkflowKind = "chat"
	// WorkflowQuiz is the quiz state machine.
	WorkflowQuiz WorkflowKind = "quiz"
	// WorkflowAnswer is the answer-formulation pipeline.
	WorkflowAnswer WorkflowKind = "answer_formulation"
)

// Valid reports whether k is a known workflow kind.
func (k WorkflowKind) Valid() bool {
	switch k {
	case WorkflowChat, WorkflowQuiz, WorkflowAnswer:
		return true
	}
	return false
}

// Session is the durable record for one conversation thread.
type Session struct {
	// ThreadID is the unique thread identifier.
	ThreadID string `json:"threadId"`
	// WorkflowKind is fixed for the lifetime of the thread.
	WorkflowKind WorkflowKind `json:"workflowKind"`
	// UserID identifies the user (optional).
	UserID string `json:"userId,omitempty"`
	// DocumentID is the source document the thread is grounded on (optional).
	DocumentID string `json:"documentId,omitempty"`
	// State is the owning workflow's full state snapshot.
	State json.RawMessage `json:"state"`
	// CreatedAt is when the thread was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the thread was last written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewThreadID generates a thread ID for the given workflow kind.
// The kind prefix makes thread ownership visible in logs and storage keys.
func NewThreadID(kind WorkflowKind) string {
	return string(kind) + "-" + uuid.NewString()
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.State != nil {
		out.State = make(json.RawMessage, len(s.State))
		copy(out.State, s.State)
	}
	return &out
}
