package quiz

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
)

const (
	// generationTemperature keeps question wording varied
	generationTemperature = 0.7

	// evaluationTemperature keeps feedback and scoring consistent
	evaluationTemperature = 0.3
)

// Workflow runs multiple-choice quizzes over a document snippet
type Workflow struct {
	llm          provider.Provider
	model        string
	maxQuestions int
}

// New creates the quiz workflow
func New(llm provider.Provider, model string, maxQuestions int) *Workflow {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	return &Workflow{llm: llm, model: model, maxQuestions: maxQuestions}
}

const generationPrompt = `You are a tutor running a multiple-choice quiz over the document below.

Generate the FIRST quiz question. Respond with a single JSON object:
- "feedback_for_user": a short welcome line introducing the quiz
- "is_correct": false (no answer has been given yet)
- "next_question": an object with "question_text", exactly 4 "options",
  "correct_answer_index" (0-3), and a one-sentence "explanation"
- "quiz_is_complete": false
- "final_summary": ""

The question must be answerable from the document text alone.

DOCUMENT TEXT:
%s`

const evaluationPromptOngoing = `You are a tutor running a multiple-choice quiz over the document below.

The student answered question %d of %d.
Question: %s
Options: %s
Correct answer: option %d (%s)
Student chose: option %d (%s)
The student's answer was %s.
Running score before this question: %d.

Respond with a single JSON object:
- "feedback_for_user": one or two sentences of feedback on the student's
  answer, referencing the correct answer's explanation: %s
- "is_correct": %t
- "next_question": the NEXT question with "question_text", exactly 4
  "options", "correct_answer_index" (0-3), and a one-sentence "explanation".
  It must be answerable from the document and must not repeat earlier
  questions: %s
- "quiz_is_complete": false. Set it to true ONLY if the document's content
  has already been sufficiently covered by the questions asked so far; in
  that case set "next_question" to null.
- "final_summary": "", or two or three encouraging sentences when
  quiz_is_complete is true

DOCUMENT TEXT:
%s`

const evaluationPromptFinal = `You are a tutor running a multiple-choice quiz over the document below.

The student answered the FINAL question (%d of %d).
Question: %s
Options: %s
Correct answer: option %d (%s)
Student chose: option %d (%s)
The student's answer was %s.
Final score: %d of %d.

Respond with a single JSON object:
- "feedback_for_user": one or two sentences of feedback on the student's
  answer, referencing the correct answer's explanation: %s
- "is_correct": %t
- "next_question": null
- "quiz_is_complete": true
- "final_summary": two or three encouraging sentences summarizing how the
  student did and which topics to review

DOCUMENT TEXT:
%s`

// stricterInstruction is appended when the first structured response fails
// validation; one retry, then the quiz terminates with an error note.
const stricterInstruction = `Your previous response did not match the required JSON shape. Respond with ONLY a raw JSON object, no prose and no code fences, containing exactly the fields feedback_for_user (string), is_correct (boolean), next_question (object or null), quiz_is_complete (boolean), and final_summary (string). next_question, when present, must have question_text, exactly 4 options, correct_answer_index between 0 and 3, and explanation.`

// Start creates a new quiz and generates its first question
func (w *Workflow) Start(ctx context.Context, snippet string) (State, string, error) {
	st := NewState(snippet, w.maxQuestions)

	prompt := fmt.Sprintf(generationPrompt, snippet)
	env, err := w.callWithRetry(ctx, &st, prompt, generationTemperature, completionForbidden)
	if err != nil {
		if provider.IsSchemaViolation(err) {
			st = w.terminateWithError(st, "I couldn't put together a well-formed quiz question")
			return st, w.errorResponse(&st), nil
		}
		return st, "", fmt.Errorf("generate first question: %w", err)
	}

	st.Current = env.NextQuestion
	st.Status = StatusAwaitingAnswer

	var b strings.Builder
	if env.FeedbackForUser != "" {
		b.WriteString(env.FeedbackForUser)
		b.WriteString("\n\n")
	}
	b.WriteString(formatQuestion(st.Current, st.QuestionNumber(), st.MaxQuestions))
	return st, b.String(), nil
}

// Answer processes one answer turn. Unparseable input re-prompts without an
// LLM call; a terminal state replies idempotently.
func (w *Workflow) Answer(ctx context.Context, st State, input string) (State, string, error) {
	if err := st.Validate(); err != nil {
		return st, "", fmt.Errorf("corrupt quiz state: %w", err)
	}

	if st.Status == StatusCompleted {
		return st, w.completedResponse(&st), nil
	}
	if st.Status != StatusAwaitingAnswer {
		return st, "", fmt.Errorf("quiz is not awaiting an answer (status %s)", st.Status)
	}

	idx, ok := parseAnswerIndex(input)
	if !ok {
		reprompt := "Please answer with the option number (1-4) or letter (a-d).\n\n" +
			formatQuestion(st.Current, st.QuestionNumber(), st.MaxQuestions)
		return st, reprompt, nil
	}

	question := *st.Current
	wasCorrect := idx == question.CorrectAnswerIndex

	// MaxQuestions forces completion; before that the model may end the
	// quiz early once the document has been covered
	isFinal := len(st.History)+1 >= st.MaxQuestions
	rule := completionAllowed
	if isFinal {
		rule = completionRequired
	}

	prompt := w.evaluationPrompt(&st, question, idx, wasCorrect, isFinal)
	env, err := w.callWithRetry(ctx, &st, prompt, evaluationTemperature, rule)
	if err != nil {
		if provider.IsSchemaViolation(err) {
			// Record the answer locally so the score stays honest, then end
			st.History = append(st.History, HistoryEntry{
				Question:        question,
				UserAnswerIndex: idx,
				WasCorrect:      wasCorrect,
				Feedback:        question.Explanation,
			})
			if wasCorrect {
				st.Score++
			}
			st = w.terminateWithError(st, "I lost track of the quiz while evaluating that answer")
			return st, w.errorResponse(&st), nil
		}
		return st, "", fmt.Errorf("evaluate answer: %w", err)
	}

	st.History = append(st.History, HistoryEntry{
		Question:        question,
		UserAnswerIndex: idx,
		WasCorrect:      wasCorrect,
		Feedback:        env.FeedbackForUser,
	})
	if wasCorrect {
		st.Score++
	}

	if env.IsCorrect != wasCorrect {
		// The recorded correct_answer_index is authoritative
		log.Printf("[Quiz] model disagreed on correctness (model=%v local=%v), keeping local", env.IsCorrect, wasCorrect)
	}

	if env.QuizIsComplete {
		st.Status = StatusCompleted
		st.Current = nil
		st.FinalSummary = env.FinalSummary

		var b strings.Builder
		b.WriteString(env.FeedbackForUser)
		fmt.Fprintf(&b, "\n\nQuiz complete! You scored %d out of %d.", st.Score, len(st.History))
		if env.FinalSummary != "" {
			b.WriteString("\n\n")
			b.WriteString(env.FinalSummary)
		}
		return st, b.String(), nil
	}

	st.Current = env.NextQuestion

	var b strings.Builder
	b.WriteString(env.FeedbackForUser)
	b.WriteString("\n\n")
	b.WriteString(formatQuestion(st.Current, st.QuestionNumber(), st.MaxQuestions))
	return st, b.String(), nil
}

// Cancel completes the quiz as cancelled without an LLM call. Cancelling an
// already-terminal quiz changes nothing.
func (w *Workflow) Cancel(st State) (State, string) {
	if st.Status == StatusCompleted {
		return st, w.completedResponse(&st)
	}

	st.Cancelled = true
	st.Status = StatusCompleted
	st.Current = nil

	return st, fmt.Sprintf("Quiz cancelled. You answered %d of %d questions correctly.",
		st.Score, len(st.History))
}

// evaluationPrompt builds the evaluate-and-generate-next prompt
func (w *Workflow) evaluationPrompt(st *State, q Question, answerIdx int, wasCorrect, isFinal bool) string {
	correctness := "INCORRECT"
	if wasCorrect {
		correctness = "CORRECT"
	}
	options := strings.Join(q.Options, " | ")

	if isFinal {
		return fmt.Sprintf(evaluationPromptFinal,
			st.QuestionNumber(), st.MaxQuestions,
			q.QuestionText, options,
			q.CorrectAnswerIndex+1, q.Options[q.CorrectAnswerIndex],
			answerIdx+1, q.Options[answerIdx],
			correctness,
			st.Score+boolToInt(wasCorrect), st.MaxQuestions,
			q.Explanation, wasCorrect,
			st.DocumentSnippet)
	}

	return fmt.Sprintf(evaluationPromptOngoing,
		st.QuestionNumber(), st.MaxQuestions,
		q.QuestionText, options,
		q.CorrectAnswerIndex+1, q.Options[q.CorrectAnswerIndex],
		answerIdx+1, q.Options[answerIdx],
		correctness,
		st.Score,
		q.Explanation, wasCorrect,
		summarizeAskedQuestions(st.History),
		st.DocumentSnippet)
}

// callWithRetry makes one structured call, retrying exactly once with a
// stricter instruction if the response fails schema or cross-field checks.
func (w *Workflow) callWithRetry(ctx context.Context, st *State, prompt string, temperature float64, rule completionRule) (*llmEnvelope, error) {
	messages := []provider.Message{{Role: "user", Content: prompt}}

	env, err := w.callOnce(ctx, st, messages, temperature, rule)
	if err == nil {
		return env, nil
	}
	if !provider.IsSchemaViolation(err) {
		return nil, err
	}

	log.Printf("[Quiz] structured response failed validation, retrying once: %v", err)
	messages = append(messages, provider.Message{Role: "system", Content: stricterInstruction})
	return w.callOnce(ctx, st, messages, temperature, rule)
}

func (w *Workflow) callOnce(ctx context.Context, st *State, messages []provider.Message, temperature float64, rule completionRule) (*llmEnvelope, error) {
	st.LLMCallCount++

	resp, err := w.llm.CreateStructured(ctx, provider.StructuredRequest{
		CompletionRequest: provider.CompletionRequest{
			Messages:    messages,
			Model:       w.model,
			Temperature: temperature,
		},
		ResponseSchema: envelopeSchema,
	})
	if err != nil {
		return nil, err
	}

	var env llmEnvelope
	if err := provider.DecodeStructured(w.llm.Name(), resp, envelopeSchema, false, &env); err != nil {
		return nil, err
	}

	if err := validateEnvelope(&env, rule); err != nil {
		return nil, provider.NewProviderError(w.llm.Name(), provider.ErrorCodeSchemaViolation,
			err.Error(), nil)
	}

	return &env, nil
}

// terminateWithError completes the quiz with an error note
func (w *Workflow) terminateWithError(st State, note string) State {
	st.Status = StatusCompleted
	st.Current = nil
	st.ErrorNote = note
	return st
}

func (w *Workflow) errorResponse(st *State) string {
	return fmt.Sprintf("%s, so I've ended the quiz early. You answered %d of %d questions correctly.",
		st.ErrorNote, st.Score, len(st.History))
}

func (w *Workflow) completedResponse(st *State) string {
	if st.Cancelled {
		return fmt.Sprintf("This quiz was cancelled. Final score: %d of %d.", st.Score, len(st.History))
	}
	return fmt.Sprintf("This quiz is already finished. Final score: %d of %d.", st.Score, len(st.History))
}

// formatQuestion renders a question for the user
func formatQuestion(q *Question, number, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d of %d: %s\n", number, total, q.QuestionText)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, opt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// summarizeAskedQuestions lists prior question texts so the model avoids
// repeating them
func summarizeAskedQuestions(history []HistoryEntry) string {
	if len(history) == 0 {
		return "(none asked yet)"
	}
	texts := make([]string, 0, len(history))
	for _, h := range history {
		texts = append(texts, h.Question.QuestionText)
	}
	return strings.Join(texts, " | ")
}

// parseAnswerIndex parses "1"-"4" or "a"-"d" (case-insensitive) into a
// zero-based option index
func parseAnswerIndex(input string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSuffix(s, ")")

	switch s {
	case "1", "a":
		return 0, true
	case "2", "b":
		return 1, true
	case "3", "c":
		return 2, true
	case "4", "d":
		return 3, true
	}
	return 0, false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
