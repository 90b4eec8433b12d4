package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore implements Store using one JSON file per thread.
// Suitable for single-node deployments; writes go through a temp file and
// rename so a crash never leaves a half-written session.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a new file-based session store.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save persists a session to a file.
func (s *FileStore) Save(ctx context.Context, sess *Session) error {
	if err := ValidateThreadID(sess.ThreadID); err != nil {
		return fmt.Errorf("invalid thread ID: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}

	existing, err := s.read(sess.ThreadID)
	if err == nil {
		if existing.WorkflowKind != sess.WorkflowKind {
			return ErrWorkflowKindMismatch
		}
		sess.CreatedAt = existing.CreatedAt
	} else if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// Write-then-rename keeps the save atomic per thread
	path := s.sessionPath(sess.ThreadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}

	return nil
}

// Load retrieves a session from its file.
func (s *FileStore) Load(ctx context.Context, threadID string) (*Session, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, fmt.Errorf("invalid thread ID: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	return s.read(threadID)
}

func (s *FileStore) read(threadID string) (*Session, error) {
	// G304: path is constructed from a validated thread ID via sessionPath()
	data, err := os.ReadFile(s.sessionPath(threadID)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &sess, nil
}

// Delete removes a session file.
func (s *FileStore) Delete(ctx context.Context, threadID string) error {
	if err := ValidateThreadID(threadID); err != nil {
		return fmt.Errorf("invalid thread ID: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}

	if err := os.Remove(s.sessionPath(threadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}

	return nil
}

// List returns all sessions matching the kind and filter options.
func (s *FileStore) List(ctx context.Context, kind WorkflowKind, opts ListOptions) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStorageClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var out []*Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		// G304: path is constructed from trusted baseDir and entry.Name() from os.ReadDir
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name())) //nolint:gosec
		if err != nil {
			continue
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}

		if kind != "" && sess.WorkflowKind != kind {
			continue
		}
		if opts.UserID != "" && sess.UserID != opts.UserID {
			continue
		}
		out = append(out, &sess)
	}

	// Directory order is not deterministic, sort for stable pagination
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })

	return paginate(out, opts), nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) sessionPath(threadID string) string {
	return filepath.Join(s.baseDir, threadID+".json")
}
