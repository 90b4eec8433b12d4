package supervisor

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tutorgo-dev/tutorgo/internal/workflow"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/answer"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/quiz"
	"github.com/tutorgo-dev/tutorgo/pkg/session"
)

// ErrMissingDocumentContext means the turn needs a document and neither the
// request, the query text, nor the thread carries one.
var ErrMissingDocumentContext = errors.New("missing document context")

// Action is the concrete operation a routing decision selects
type Action string

const (
	ActionGreeting    Action = "greeting"
	ActionQuizStart   Action = "quiz_start"
	ActionQuizTurn    Action = "quiz_turn"
	ActionQuizCancel  Action = "quiz_cancel"
	ActionAnswerBegin Action = "answer_begin"
	ActionAnswerEdit  Action = "answer_edit"
	ActionChat        Action = "chat"
)

// Decision is the result of routing one turn
type Decision struct {
	Kind   session.WorkflowKind
	Action Action

	// DocumentID is the document the turn resolved to (request field, query
	// extraction, or thread binding), empty when none applies
	DocumentID string
}

// Command tokens. Matching is case-insensitive on the trimmed query.
var (
	quizStartTokens  = []string{"/start_quiz", "start quiz", "quiz me on", "begin quiz"}
	quizCancelTokens = []string{"cancel quiz", "stop quiz", "exit quiz", "end quiz"}
)

// docIDRegex extracts an inline document reference like "doc:bio-101"
var docIDRegex = regexp.MustCompile(`(?i)\bdoc(?:ument)?(?:_id)?\s*[:=]\s*([a-zA-Z0-9_-]+)`)

// Route decides which workflow handles a turn. It is pure: same request and
// prior session always produce the same decision, and it touches no storage.
//
// Priority: (1) a thread mid-workflow owns the turn; (2) quiz-start tokens;
// (3) quiz-cancel tokens on a quiz thread; (4) chat, which requires a
// document.
func Route(req workflow.TurnRequest, prior *session.Session) (Decision, error) {
	query := strings.TrimSpace(req.QueryText)
	docID := resolveDocumentID(req, prior)

	if prior != nil {
		switch prior.WorkflowKind {
		case session.WorkflowQuiz:
			if hasToken(query, quizCancelTokens) {
				return Decision{Kind: session.WorkflowQuiz, Action: ActionQuizCancel, DocumentID: docID}, nil
			}
			// Everything else on a quiz thread is an answer turn; terminal
			// quizzes reply idempotently inside the workflow
			return Decision{Kind: session.WorkflowQuiz, Action: ActionQuizTurn, DocumentID: docID}, nil

		case session.WorkflowAnswer:
			var st answer.State
			if err := json.Unmarshal(prior.State, &st); err == nil && st.RefinedAnswer != "" {
				return Decision{Kind: session.WorkflowAnswer, Action: ActionAnswerEdit, DocumentID: docID}, nil
			}
			return Decision{Kind: session.WorkflowAnswer, Action: ActionAnswerBegin, DocumentID: docID}, nil

		case session.WorkflowChat:
			// Starting a quiz from a chat thread spawns a new quiz thread;
			// the chat thread itself stays bound to chat
			if hasToken(query, quizStartTokens) {
				if docID == "" {
					return Decision{}, ErrMissingDocumentContext
				}
				return Decision{Kind: session.WorkflowQuiz, Action: ActionQuizStart, DocumentID: docID}, nil
			}
			return Decision{Kind: session.WorkflowChat, Action: ActionChat, DocumentID: docID}, nil
		}
	}

	// New thread
	if req.Command == workflow.CommandFormulateAnswer {
		return Decision{Kind: session.WorkflowAnswer, Action: ActionAnswerBegin, DocumentID: docID}, nil
	}

	if query == "" {
		return Decision{Kind: session.WorkflowChat, Action: ActionGreeting, DocumentID: docID}, nil
	}

	if hasToken(query, quizStartTokens) {
		if docID == "" {
			return Decision{}, ErrMissingDocumentContext
		}
		return Decision{Kind: session.WorkflowQuiz, Action: ActionQuizStart, DocumentID: docID}, nil
	}

	if docID == "" {
		return Decision{}, ErrMissingDocumentContext
	}
	return Decision{Kind: session.WorkflowChat, Action: ActionChat, DocumentID: docID}, nil
}

// resolveDocumentID picks the document for a turn: explicit request field,
// then an inline "doc:<id>" reference in the query, then the thread binding.
func resolveDocumentID(req workflow.TurnRequest, prior *session.Session) string {
	if req.DocumentID != "" {
		return req.DocumentID
	}
	if m := docIDRegex.FindStringSubmatch(req.QueryText); m != nil {
		return m[1]
	}
	if prior != nil {
		return prior.DocumentID
	}
	return ""
}

func hasToken(query string, tokens []string) bool {
	q := strings.ToLower(query)
	for _, tok := range tokens {
		if strings.Contains(q, tok) {
			return true
		}
	}
	return false
}

// quizStateOf decodes a quiz session's state
func quizStateOf(s *session.Session) (quiz.State, error) {
	var st quiz.State
	if err := json.Unmarshal(s.State, &st); err != nil {
		return quiz.State{}, err
	}
	return st, nil
}

// answerStateOf decodes an answer-formulation session's state
func answerStateOf(s *session.Session) (answer.State, error) {
	var st answer.State
	if err := json.Unmarshal(s.State, &st); err != nil {
		return answer.State{}, err
	}
	return st, nil
}
