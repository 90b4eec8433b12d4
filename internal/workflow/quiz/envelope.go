package quiz

import (
	"encoding/json"
	"fmt"
)

// llmEnvelope is the structured response shape for both quiz generation and
// evaluation calls. A single shape keeps the model's job uniform: give
// feedback, report correctness, and either pose the next question or close
// out the quiz.
type llmEnvelope struct {
	FeedbackForUser string    `json:"feedback_for_user"`
	IsCorrect       bool      `json:"is_correct"`
	NextQuestion    *Question `json:"next_question"`
	QuizIsComplete  bool      `json:"quiz_is_complete"`
	FinalSummary    string    `json:"final_summary"`
}

// envelopeSchema is the JSON Schema sent with every structured quiz call
var envelopeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"feedback_for_user": {"type": "string"},
		"is_correct": {"type": "boolean"},
		"next_question": {
			"type": "object",
			"nullable": true,
			"properties": {
				"question_text": {"type": "string"},
				"options": {
					"type": "array",
					"items": {"type": "string"},
					"minItems": 4,
					"maxItems": 4
				},
				"correct_answer_index": {"type": "integer", "minimum": 0, "maximum": 3},
				"explanation": {"type": "string"}
			},
			"required": ["question_text", "options", "correct_answer_index", "explanation"]
		},
		"quiz_is_complete": {"type": "boolean"},
		"final_summary": {"type": "string"}
	},
	"required": ["feedback_for_user", "is_correct", "quiz_is_complete"]
}`)

// completionRule says what a turn allows the model to do with
// quiz_is_complete: generation must keep the quiz open, a forced final turn
// must close it, and every other evaluation turn may close it early when the
// document has been covered.
type completionRule int

const (
	completionForbidden completionRule = iota
	completionAllowed
	completionRequired
)

// validateEnvelope enforces the cross-field rules the JSON Schema cannot
// express: a completed quiz carries a summary and no question, an ongoing
// one carries a well-formed question.
func validateEnvelope(env *llmEnvelope, rule completionRule) error {
	if env.QuizIsComplete && rule == completionForbidden {
		return fmt.Errorf("quiz_is_complete must be false on this turn")
	}
	if !env.QuizIsComplete && rule == completionRequired {
		return fmt.Errorf("quiz_is_complete must be true on the final question")
	}

	if env.QuizIsComplete {
		if env.NextQuestion != nil {
			return fmt.Errorf("next_question must be null when quiz_is_complete is true")
		}
		if env.FinalSummary == "" {
			return fmt.Errorf("final_summary is required when quiz_is_complete is true")
		}
		return nil
	}

	q := env.NextQuestion
	if q == nil {
		return fmt.Errorf("next_question is required when quiz_is_complete is false")
	}
	if q.QuestionText == "" {
		return fmt.Errorf("next_question.question_text is empty")
	}
	if len(q.Options) != 4 {
		return fmt.Errorf("next_question.options has %d entries, expected 4", len(q.Options))
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex > 3 {
		return fmt.Errorf("next_question.correct_answer_index %d out of range [0,3]", q.CorrectAnswerIndex)
	}
	return nil
}
