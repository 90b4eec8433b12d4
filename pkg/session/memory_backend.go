package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage (useful for testing
// and single-process runs without durability requirements).
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Save persists a session in memory.
func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	if err := ValidateThreadID(sess.ThreadID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}

	if existing, ok := s.sessions[sess.ThreadID]; ok {
		if existing.WorkflowKind != sess.WorkflowKind {
			return ErrWorkflowKindMismatch
		}
		sess.CreatedAt = existing.CreatedAt
	} else if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = time.Now().UTC()

	// Deep copy to prevent external mutations
	s.sessions[sess.ThreadID] = sess.Clone()

	return nil
}

// Load retrieves a session from memory.
func (s *MemoryStore) Load(ctx context.Context, threadID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	sess, ok := s.sessions[threadID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return sess.Clone(), nil
}

// Delete removes a session from memory.
func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}

	delete(s.sessions, threadID)
	return nil
}

// List returns sessions matching the kind and filter options.
func (s *MemoryStore) List(ctx context.Context, kind WorkflowKind, opts ListOptions) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	var out []*Session
	for _, sess := range s.sessions {
		if kind != "" && sess.WorkflowKind != kind {
			continue
		}
		if opts.UserID != "" && sess.UserID != opts.UserID {
			continue
		}
		out = append(out, sess.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })

	return paginate(out, opts), nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// paginate applies offset and limit to a sorted result set.
func paginate(sessions []*Session, opts ListOptions) []*Session {
	start := opts.Offset
	if start >= len(sessions) {
		return []*Session{}
	}
	end := len(sessions)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return sessions[start:end]
}
