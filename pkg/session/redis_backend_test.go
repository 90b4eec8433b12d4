package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackendFromClient(client, "test:", 0)

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return mr, backend
}

func TestRedisBackend_SaveAndLoad(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	sess := &Session{
		ThreadID:     "chat-123",
		WorkflowKind: WorkflowChat,
		UserID:       "user-456",
		DocumentID:   "doc-1",
		State:        json.RawMessage(`{"history":[]}`),
	}

	if err := backend.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := backend.Load(ctx, "chat-123")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.ThreadID != sess.ThreadID {
		t.Errorf("ThreadID mismatch: got %s, want %s", loaded.ThreadID, sess.ThreadID)
	}
	if loaded.WorkflowKind != WorkflowChat {
		t.Errorf("WorkflowKind mismatch: got %s", loaded.WorkflowKind)
	}
	if string(loaded.State) != `{"history":[]}` {
		t.Errorf("State mismatch: got %s", loaded.State)
	}
	if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
		t.Error("timestamps not set on save")
	}
}

func TestRedisBackend_Load_NotFound(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	_, err := backend.Load(ctx, "nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisBackend_KindIsPermanent(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	if err := backend.Save(ctx, &Session{
		ThreadID:     "thread-1",
		WorkflowKind: WorkflowQuiz,
		State:        json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	err := backend.Save(ctx, &Session{
		ThreadID:     "thread-1",
		WorkflowKind: WorkflowChat,
		State:        json.RawMessage(`{}`),
	})
	if !errors.Is(err, ErrWorkflowKindMismatch) {
		t.Errorf("expected ErrWorkflowKindMismatch, got %v", err)
	}
}

func TestRedisBackend_Delete(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	if err := backend.Save(ctx, &Session{
		ThreadID:     "thread-del",
		WorkflowKind: WorkflowChat,
		UserID:       "user-1",
		State:        json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := backend.Delete(ctx, "thread-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := backend.Load(ctx, "thread-del"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestRedisBackend_List(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sess := &Session{
			ThreadID:     "quiz-" + string(rune('a'+i)),
			WorkflowKind: WorkflowQuiz,
			UserID:       "user-1",
			State:        json.RawMessage(`{}`),
		}
		if err := backend.Save(ctx, sess); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := backend.Save(ctx, &Session{
		ThreadID:     "chat-a",
		WorkflowKind: WorkflowChat,
		UserID:       "user-2",
		State:        json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	quizzes, err := backend.List(ctx, WorkflowQuiz, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(quizzes) != 3 {
		t.Errorf("expected 3 quiz sessions, got %d", len(quizzes))
	}

	limited, err := backend.List(ctx, WorkflowQuiz, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 sessions with limit, got %d", len(limited))
	}

	byUser, err := backend.List(ctx, WorkflowQuiz, ListOptions{UserID: "user-1"})
	if err != nil {
		t.Fatalf("List by user failed: %v", err)
	}
	if len(byUser) != 3 {
		t.Errorf("expected 3 sessions for user-1, got %d", len(byUser))
	}
}

func TestRedisBackend_TurnLock(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	release, err := backend.AcquireTurn(ctx, "thread-1")
	if err != nil {
		t.Fatalf("AcquireTurn failed: %v", err)
	}

	if _, err := backend.AcquireTurn(ctx, "thread-1"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("expected ErrTurnInFlight, got %v", err)
	}

	// Other threads are unaffected
	release2, err := backend.AcquireTurn(ctx, "thread-2")
	if err != nil {
		t.Fatalf("AcquireTurn on other thread failed: %v", err)
	}
	release2()

	release()
	release3, err := backend.AcquireTurn(ctx, "thread-1")
	if err != nil {
		t.Fatalf("AcquireTurn after release failed: %v", err)
	}
	release3()
}

func TestRedisBackend_TurnLockExpires(t *testing.T) {
	mr, backend := setupMiniredis(t)
	ctx := context.Background()

	if _, err := backend.AcquireTurn(ctx, "thread-1"); err != nil {
		t.Fatalf("AcquireTurn failed: %v", err)
	}

	// A crashed node never calls release; the lock must expire
	mr.FastForward(2 * turnLockTTL)

	release, err := backend.AcquireTurn(ctx, "thread-1")
	if err != nil {
		t.Fatalf("AcquireTurn after expiry failed: %v", err)
	}
	release()
}

func TestRedisBackend_TTL(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	backend := NewRedisBackendFromClient(client, "test:", 1*time.Hour)
	defer func() { _ = backend.Close() }()

	ctx := context.Background()

	if err := backend.Save(ctx, &Session{
		ThreadID:     "thread-ttl",
		WorkflowKind: WorkflowChat,
		State:        json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := backend.Load(ctx, "thread-ttl"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after TTL expiry, got %v", err)
	}
}

func TestRedisBackend_Close(t *testing.T) {
	_, backend := setupMiniredis(t)
	ctx := context.Background()

	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := backend.Load(ctx, "test"); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("expected ErrStorageClosed after close, got %v", err)
	}
}

func TestRedisBackend_Ping(t *testing.T) {
	_, backend := setupMiniredis(t)

	if err := backend.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
