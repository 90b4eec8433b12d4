// Package supervisor routes each incoming turn to exactly one workflow,
// persists the resulting state snapshot, and normalizes every outcome into a
// TurnResponse. Workflow errors never escape past it; only storage failures
// abort a turn.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tutorgo-dev/tutorgo/internal/content"
	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
	internalobs "github.com/tutorgo-dev/tutorgo/internal/observability"
	"github.com/tutorgo-dev/tutorgo/internal/workflow"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/answer"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/chat"
	"github.com/tutorgo-dev/tutorgo/internal/workflow/quiz"
	"github.com/tutorgo-dev/tutorgo/pkg/observability"
	"github.com/tutorgo-dev/tutorgo/pkg/session"
)

const greetingText = "Hi! I can chat about a document, quiz you on it (say \"start quiz\"), or help you turn a spoken answer into written prose. Which document are we working with?"

// Supervisor owns the turn loop: route, invoke, persist, respond
type Supervisor struct {
	store   session.Store
	locker  session.TurnLocker
	content content.Provider

	chat   *chat.Workflow
	quiz   *quiz.Workflow
	answer *answer.Workflow
}

// Options configures a Supervisor. Chat is mandatory; quiz and answer may be
// nil, in which case turns for them fall back to chat with a note.
type Options struct {
	Store   session.Store
	Locker  session.TurnLocker
	Content content.Provider
	Chat    *chat.Workflow
	Quiz    *quiz.Workflow
	Answer  *answer.Workflow
}

// New creates a Supervisor
func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("supervisor requires a session store")
	}
	if opts.Content == nil {
		return nil, fmt.Errorf("supervisor requires a content provider")
	}
	if opts.Chat == nil {
		return nil, fmt.Errorf("supervisor requires the chat workflow")
	}
	locker := opts.Locker
	if locker == nil {
		locker = session.NewKeyedTurnLock()
	}
	return &Supervisor{
		store:   opts.Store,
		locker:  locker,
		content: opts.Content,
		chat:    opts.Chat,
		quiz:    opts.Quiz,
		answer:  opts.Answer,
	}, nil
}

// HandleTurn processes one user turn end to end
func (s *Supervisor) HandleTurn(ctx context.Context, req workflow.TurnRequest) (*workflow.TurnResponse, error) {
	start := time.Now()

	ctx, span := internalobs.StartSpan(ctx, "supervisor.turn", map[string]any{
		"user_id":   req.UserID,
		"thread_id": req.ThreadID,
	})
	defer span.End()

	if req.UserID == "" {
		return nil, fmt.Errorf("turn request requires a user ID")
	}

	var prior *session.Session
	if req.ThreadID != "" {
		if err := session.ValidateThreadID(req.ThreadID); err != nil {
			return nil, fmt.Errorf("invalid thread ID: %w", err)
		}

		release, err := s.locker.AcquireTurn(ctx, req.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("thread %s: %w", req.ThreadID, err)
		}
		defer release()

		prior, err = s.store.Load(ctx, req.ThreadID)
		if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return nil, fmt.Errorf("load session %s: %w", req.ThreadID, err)
		}
	}

	decision, err := Route(req, prior)
	if err != nil {
		if errors.Is(err, ErrMissingDocumentContext) {
			return s.finishTurn(start, &workflow.TurnResponse{
				ThreadID:     req.ThreadID,
				WorkflowKind: session.WorkflowChat,
				ResponseText: "Please tell me which document to use, e.g. \"doc:bio-101\".",
				Error:        "missing_document_context",
			}), nil
		}
		return nil, err
	}

	decision = s.applyFallback(decision)
	observability.RecordRoutingDecision(string(decision.Action))

	resp, err := s.dispatch(ctx, req, prior, decision)
	if err != nil {
		return nil, err
	}
	return s.finishTurn(start, resp), nil
}

// applyFallback downgrades decisions whose workflow is not configured to
// chat, which is always present.
func (s *Supervisor) applyFallback(d Decision) Decision {
	switch d.Action {
	case ActionQuizStart, ActionQuizTurn, ActionQuizCancel:
		if s.quiz == nil {
			log.Printf("[Supervisor] quiz workflow unavailable, falling back to chat")
			observability.RecordRoutingFallback()
			return Decision{Kind: session.WorkflowChat, Action: ActionChat, DocumentID: d.DocumentID}
		}
	case ActionAnswerBegin, ActionAnswerEdit:
		if s.answer == nil {
			log.Printf("[Supervisor] answer workflow unavailable, falling back to chat")
			observability.RecordRoutingFallback()
			return Decision{Kind: session.WorkflowChat, Action: ActionChat, DocumentID: d.DocumentID}
		}
	}
	return d
}

func (s *Supervisor) dispatch(ctx context.Context, req workflow.TurnRequest, prior *session.Session, d Decision) (*workflow.TurnResponse, error) {
	switch d.Action {
	case ActionGreeting:
		return &workflow.TurnResponse{
			ThreadID:     req.ThreadID,
			WorkflowKind: session.WorkflowChat,
			ResponseText: greetingText,
		}, nil

	case ActionQuizStart:
		return s.startQuiz(ctx, req, d)

	case ActionQuizTurn:
		return s.quizTurn(ctx, req, prior)

	case ActionQuizCancel:
		return s.cancelQuiz(ctx, prior)

	case ActionAnswerBegin:
		return s.beginAnswer(ctx, req, prior, d)

	case ActionAnswerEdit:
		return s.editAnswer(ctx, req, prior)

	case ActionChat:
		return s.chatTurn(ctx, req, prior, d)
	}

	return nil, fmt.Errorf("unhandled routing action %q", d.Action)
}

func (s *Supervisor) startQuiz(ctx context.Context, req workflow.TurnRequest, d Decision) (*workflow.TurnResponse, error) {
	snippet, err := s.content.GetSnippet(ctx, d.DocumentID, content.DefaultSnippetChars)
	if err != nil {
		if errors.Is(err, content.ErrContentUnavailable) {
			return &workflow.TurnResponse{
				ThreadID:     req.ThreadID,
				WorkflowKind: session.WorkflowQuiz,
				ResponseText: fmt.Sprintf("I couldn't find any readable text for document %q, so I can't start a quiz on it.", d.DocumentID),
				Error:        "content_unavailable",
			}, nil
		}
		return nil, fmt.Errorf("fetch snippet for %s: %w", d.DocumentID, err)
	}

	st, text, err := s.quiz.Start(ctx, snippet)
	if err != nil {
		return s.llmFailureResponse(req.ThreadID, session.WorkflowQuiz, err), nil
	}

	// A quiz always runs on its own thread, even when started from a chat
	// thread
	threadID := session.NewThreadID(session.WorkflowQuiz)
	if err := s.saveState(ctx, threadID, session.WorkflowQuiz, req.UserID, d.DocumentID, nil, &st); err != nil {
		return nil, err
	}

	return quizResponse(threadID, &st, text), nil
}

func (s *Supervisor) quizTurn(ctx context.Context, req workflow.TurnRequest, prior *session.Session) (*workflow.TurnResponse, error) {
	st, err := quizStateOf(prior)
	if err != nil {
		return nil, fmt.Errorf("decode quiz state for %s: %w", prior.ThreadID, err)
	}

	newState, text, err := s.quiz.Answer(ctx, st, req.QueryText)
	if err != nil {
		return s.llmFailureResponse(prior.ThreadID, session.WorkflowQuiz, err), nil
	}

	if err := s.saveState(ctx, prior.ThreadID, session.WorkflowQuiz, prior.UserID, prior.DocumentID, prior, &newState); err != nil {
		return nil, err
	}

	return quizResponse(prior.ThreadID, &newState, text), nil
}

func (s *Supervisor) cancelQuiz(ctx context.Context, prior *session.Session) (*workflow.TurnResponse, error) {
	st, err := quizStateOf(prior)
	if err != nil {
		return nil, fmt.Errorf("decode quiz state for %s: %w", prior.ThreadID, err)
	}

	newState, text := s.quiz.Cancel(st)

	if err := s.saveState(ctx, prior.ThreadID, session.WorkflowQuiz, prior.UserID, prior.DocumentID, prior, &newState); err != nil {
		return nil, err
	}

	return quizResponse(prior.ThreadID, &newState, text), nil
}

func (s *Supervisor) beginAnswer(ctx context.Context, req workflow.TurnRequest, prior *session.Session, d Decision) (*workflow.TurnResponse, error) {
	var st answer.State
	threadID := req.ThreadID
	if prior != nil {
		var err error
		st, err = answerStateOf(prior)
		if err != nil {
			return nil, fmt.Errorf("decode answer state for %s: %w", prior.ThreadID, err)
		}
		threadID = prior.ThreadID
	}
	if threadID == "" {
		threadID = session.NewThreadID(session.WorkflowAnswer)
	}

	newState, text, err := s.answer.Begin(ctx, st, req.QueryText, "")
	if err != nil {
		if errors.Is(err, answer.ErrValidation) {
			// The rejection is part of the thread's story; persist it
			if saveErr := s.saveState(ctx, threadID, session.WorkflowAnswer, req.UserID, d.DocumentID, prior, &newState); saveErr != nil {
				return nil, saveErr
			}
			return &workflow.TurnResponse{
				ThreadID:     threadID,
				WorkflowKind: session.WorkflowAnswer,
				ResponseText: text,
				Error:        "validation_error",
			}, nil
		}
		return s.llmFailureResponse(threadID, session.WorkflowAnswer, err), nil
	}

	if err := s.saveState(ctx, threadID, session.WorkflowAnswer, req.UserID, d.DocumentID, prior, &newState); err != nil {
		return nil, err
	}

	return answerResponse(threadID, &newState, text), nil
}

func (s *Supervisor) editAnswer(ctx context.Context, req workflow.TurnRequest, prior *session.Session) (*workflow.TurnResponse, error) {
	st, err := answerStateOf(prior)
	if err != nil {
		return nil, fmt.Errorf("decode answer state for %s: %w", prior.ThreadID, err)
	}

	newState, text, err := s.answer.ApplyEdit(ctx, st, req.QueryText)
	if err != nil {
		if errors.Is(err, answer.ErrValidation) {
			return &workflow.TurnResponse{
				ThreadID:     prior.ThreadID,
				WorkflowKind: session.WorkflowAnswer,
				ResponseText: "Please tell me what to change, e.g. \"rephrase the second sentence\".",
				Error:        "validation_error",
			}, nil
		}
		// Persist the error status so the thread records the failed attempt
		if saveErr := s.saveState(ctx, prior.ThreadID, session.WorkflowAnswer, prior.UserID, prior.DocumentID, prior, &newState); saveErr != nil {
			return nil, saveErr
		}
		return s.llmFailureResponse(prior.ThreadID, session.WorkflowAnswer, err), nil
	}

	if err := s.saveState(ctx, prior.ThreadID, session.WorkflowAnswer, prior.UserID, prior.DocumentID, prior, &newState); err != nil {
		return nil, err
	}

	return answerResponse(prior.ThreadID, &newState, text), nil
}

// answerResponse builds the turn envelope for a successful answer turn
func answerResponse(threadID string, st *answer.State, text string) *workflow.TurnResponse {
	return &workflow.TurnResponse{
		ThreadID:     threadID,
		WorkflowKind: session.WorkflowAnswer,
		ResponseText: text,
		StructuredPayload: &workflow.AnswerDraft{
			RefinedAnswer:  st.RefinedAnswer,
			IterationCount: st.IterationCount,
		},
	}
}

func (s *Supervisor) chatTurn(ctx context.Context, req workflow.TurnRequest, prior *session.Session, d Decision) (*workflow.TurnResponse, error) {
	threadID := req.ThreadID
	var st chat.State
	if prior != nil {
		threadID = prior.ThreadID
		if err := json.Unmarshal(prior.State, &st); err != nil {
			return nil, fmt.Errorf("decode chat state for %s: %w", prior.ThreadID, err)
		}
	}
	if threadID == "" {
		threadID = session.NewThreadID(session.WorkflowChat)
	}

	docText, err := s.content.GetText(ctx, d.DocumentID)
	if err != nil {
		if errors.Is(err, content.ErrContentUnavailable) {
			return &workflow.TurnResponse{
				ThreadID:     threadID,
				WorkflowKind: session.WorkflowChat,
				ResponseText: fmt.Sprintf("I couldn't find any readable text for document %q.", d.DocumentID),
				Error:        "content_unavailable",
			}, nil
		}
		return nil, fmt.Errorf("fetch document %s: %w", d.DocumentID, err)
	}

	newState, text, err := s.chat.Respond(ctx, st, req.QueryText, docText)
	if err != nil {
		return s.llmFailureResponse(threadID, session.WorkflowChat, err), nil
	}

	if err := s.saveState(ctx, threadID, session.WorkflowChat, req.UserID, d.DocumentID, prior, &newState); err != nil {
		return nil, err
	}

	return &workflow.TurnResponse{
		ThreadID:     threadID,
		WorkflowKind: session.WorkflowChat,
		ResponseText: text,
	}, nil
}

// saveState marshals a workflow state and persists it as the thread's
// session snapshot.
func (s *Supervisor) saveState(ctx context.Context, threadID string, kind session.WorkflowKind, userID, documentID string, prior *session.Session, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s state: %w", kind, err)
	}

	sess := &session.Session{
		ThreadID:     threadID,
		WorkflowKind: kind,
		UserID:       userID,
		DocumentID:   documentID,
		State:        raw,
	}
	if prior != nil {
		if sess.UserID == "" {
			sess.UserID = prior.UserID
		}
		if sess.DocumentID == "" {
			sess.DocumentID = prior.DocumentID
		}
		sess.CreatedAt = prior.CreatedAt
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", threadID, err)
	}
	return nil
}

// llmFailureResponse normalizes an LLM-layer failure into a TurnResponse;
// thread state was not modified.
func (s *Supervisor) llmFailureResponse(threadID string, kind session.WorkflowKind, err error) *workflow.TurnResponse {
	log.Printf("[Supervisor] %s workflow failed on thread %s: %v", kind, threadID, err)

	code := "llm_error"
	text := "Something went wrong while generating a response. Please try again."
	switch {
	case provider.IsTimeout(err):
		code = "timeout"
		text = "That took too long to process. Please try again."
	case provider.IsRefusal(err):
		code = "refused_output"
		text = "I couldn't produce a response for that input."
	case provider.IsSchemaViolation(err):
		code = "schema_violation"
	}

	return &workflow.TurnResponse{
		ThreadID:     threadID,
		WorkflowKind: kind,
		ResponseText: text,
		Error:        code,
	}
}

// quizResponse builds the turn envelope for any quiz outcome
func quizResponse(threadID string, st *quiz.State, text string) *workflow.TurnResponse {
	resp := &workflow.TurnResponse{
		ThreadID:      threadID,
		WorkflowKind:  session.WorkflowQuiz,
		ResponseText:  text,
		QuizActive:    st.Status == quiz.StatusAwaitingAnswer,
		QuizComplete:  st.Status == quiz.StatusCompleted && !st.Cancelled,
		QuizCancelled: st.Cancelled,
		Score:         st.Score,
		QuestionCount: len(st.History),
	}
	if st.Current != nil {
		resp.StructuredPayload = &workflow.QuizQuestion{
			QuestionText: st.Current.QuestionText,
			Options:      st.Current.Options,
			Number:       st.QuestionNumber(),
		}
	}
	if st.ErrorNote != "" {
		resp.Error = "quiz_terminated: " + st.ErrorNote
	}
	return resp
}

func (s *Supervisor) finishTurn(start time.Time, resp *workflow.TurnResponse) *workflow.TurnResponse {
	status := "ok"
	if resp.Error != "" {
		status = "error"
	}
	observability.RecordTurn(string(resp.WorkflowKind), status, time.Since(start))
	return resp
}
