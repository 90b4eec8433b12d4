// Package answer implements the answer-formulation pipeline: a student's
// spoken-answer transcript is refined into written prose, then iteratively
// edited on command, with sampled fidelity checks against the original.
package answer

import "time"

// Status is the answer-formulation lifecycle state
type Status string

const (
	StatusValidating Status = "validating"
	StatusRefining   Status = "refining"
	StatusRefined    Status = "refined"
	StatusEditing    Status = "editing"
	StatusError      Status = "error"
)

// Transcript word-count bounds
const (
	MinTranscriptWords = 5
	MaxTranscriptWords = 2000
)

// DefaultFidelitySampleRate is the fraction of edits that trigger a
// fidelity check when config does not override it
const DefaultFidelitySampleRate = 0.10

// EditRecord is one applied edit command
type EditRecord struct {
	Command    string    `json:"command"`
	ParsedKind EditKind  `json:"parsed_kind"`
	Before     string    `json:"before"`
	After      string    `json:"after"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the durable answer-formulation thread state.
//
// OriginalTranscript never changes once set; EditHistory is append-only.
type State struct {
	OriginalTranscript string       `json:"original_transcript"`
	QuestionPrompt     string       `json:"question_prompt,omitempty"`
	RefinedAnswer      string       `json:"refined_answer,omitempty"`
	EditHistory        []EditRecord `json:"edit_history,omitempty"`
	IterationCount     int          `json:"iteration_count"`
	LLMCallCount       int          `json:"llm_call_count"`
	Status             Status       `json:"status"`
	FidelityScore      *float64     `json:"fidelity_score,omitempty"`
	FidelityViolations []string     `json:"fidelity_violations,omitempty"`
	ErrorNote          string       `json:"error_note,omitempty"`
}
