package session

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// storeFactories lets round-trip tests run against every local backend.
func storeFactories(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			state, _ := json.Marshal(map[string]any{
				"score":   3,
				"history": []string{"q1", "q2"},
			})

			sess := &Session{
				ThreadID:     "quiz-thread-1",
				WorkflowKind: WorkflowQuiz,
				UserID:       "user-1",
				DocumentID:   "doc-42",
				State:        state,
			}

			if err := store.Save(ctx, sess); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := store.Load(ctx, "quiz-thread-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if loaded.ThreadID != sess.ThreadID {
				t.Errorf("ThreadID mismatch: got %s, want %s", loaded.ThreadID, sess.ThreadID)
			}
			if loaded.WorkflowKind != WorkflowQuiz {
				t.Errorf("WorkflowKind mismatch: got %s", loaded.WorkflowKind)
			}
			if loaded.UserID != "user-1" || loaded.DocumentID != "doc-42" {
				t.Errorf("identity fields mismatch: %+v", loaded)
			}

			// State snapshot must survive byte-for-byte semantics
			var want, got map[string]any
			if err := json.Unmarshal(sess.State, &want); err != nil {
				t.Fatalf("unmarshal saved state: %v", err)
			}
			if err := json.Unmarshal(loaded.State, &got); err != nil {
				t.Fatalf("unmarshal loaded state: %v", err)
			}
			if !reflect.DeepEqual(want, got) {
				t.Errorf("state mismatch: got %v, want %v", got, want)
			}
		})
	}
}

func TestStore_Load_NotFound(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "nonexistent")
			if !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestStore_WorkflowKindIsPermanent(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			sess := &Session{
				ThreadID:     "thread-bound",
				WorkflowKind: WorkflowChat,
				State:        json.RawMessage(`{}`),
			}
			if err := store.Save(ctx, sess); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			rebound := &Session{
				ThreadID:     "thread-bound",
				WorkflowKind: WorkflowQuiz,
				State:        json.RawMessage(`{}`),
			}
			if err := store.Save(ctx, rebound); !errors.Is(err, ErrWorkflowKindMismatch) {
				t.Errorf("expected ErrWorkflowKindMismatch, got %v", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			sess := &Session{
				ThreadID:     "thread-delete",
				WorkflowKind: WorkflowChat,
				State:        json.RawMessage(`{}`),
			}
			if err := store.Save(ctx, sess); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			if err := store.Delete(ctx, "thread-delete"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}

			if _, err := store.Load(ctx, "thread-delete"); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
			}

			// Deleting a missing thread is not an error
			if err := store.Delete(ctx, "thread-delete"); err != nil {
				t.Errorf("second Delete failed: %v", err)
			}
		})
	}
}

func TestStore_List_ByKindAndUser(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			seed := []*Session{
				{ThreadID: "chat-a", WorkflowKind: WorkflowChat, UserID: "u1", State: json.RawMessage(`{}`)},
				{ThreadID: "chat-b", WorkflowKind: WorkflowChat, UserID: "u2", State: json.RawMessage(`{}`)},
				{ThreadID: "quiz-a", WorkflowKind: WorkflowQuiz, UserID: "u1", State: json.RawMessage(`{}`)},
			}
			for _, s := range seed {
				if err := store.Save(ctx, s); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}

			chats, err := store.List(ctx, WorkflowChat, ListOptions{})
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(chats) != 2 {
				t.Errorf("expected 2 chat sessions, got %d", len(chats))
			}

			u1, err := store.List(ctx, "", ListOptions{UserID: "u1"})
			if err != nil {
				t.Fatalf("List by user failed: %v", err)
			}
			if len(u1) != 2 {
				t.Errorf("expected 2 sessions for u1, got %d", len(u1))
			}

			limited, err := store.List(ctx, "", ListOptions{Limit: 1, Offset: 1})
			if err != nil {
				t.Fatalf("List with limit failed: %v", err)
			}
			if len(limited) != 1 {
				t.Errorf("expected 1 session with limit, got %d", len(limited))
			}
		})
	}
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if _, err := store.Load(ctx, "any"); !errors.Is(err, ErrStorageClosed) {
				t.Errorf("expected ErrStorageClosed, got %v", err)
			}
		})
	}
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := &Session{
		ThreadID:     "thread-copy",
		WorkflowKind: WorkflowChat,
		State:        json.RawMessage(`{"n":1}`),
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "thread-copy")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded.State[0] = 'X'

	again, err := store.Load(ctx, "thread-copy")
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if string(again.State) != `{"n":1}` {
		t.Errorf("stored state was mutated through a loaded copy: %s", again.State)
	}
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	bad := []string{"", "../escape", "a/b", "thread id", string(make([]byte, 300))}
	for _, id := range bad {
		if err := store.Save(ctx, &Session{ThreadID: id, WorkflowKind: WorkflowChat}); err == nil {
			t.Errorf("Save accepted invalid thread ID %q", id)
		}
		if _, err := store.Load(ctx, id); err == nil {
			t.Errorf("Load accepted invalid thread ID %q", id)
		}
	}
}

func TestNewThreadID(t *testing.T) {
	id := NewThreadID(WorkflowQuiz)
	if err := ValidateThreadID(id); err != nil {
		t.Errorf("generated thread ID is invalid: %v", err)
	}
	if id[:5] != "quiz-" {
		t.Errorf("expected quiz- prefix, got %s", id)
	}
}
