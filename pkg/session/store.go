package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a thread doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageClosed is returned when operating on a closed store.
	ErrStorageClosed = errors.New("session store is closed")
	// ErrWorkflowKindMismatch is returned when a save would rebind an
	// existing thread to a different workflow kind.
	ErrWorkflowKindMismatch = errors.New("thread is bound to a different workflow kind")
	// ErrTurnInFlight is returned when a turn is already running on a thread.
	ErrTurnInFlight = errors.New("turn already in flight for thread")
)

// Store abstracts session persistence.
// Implementations must be safe for concurrent use, persist the Session as a
// single atomic record per thread, and keep no divergent in-memory copy.
type Store interface {
	// Save creates or updates a session. The write is atomic per thread.
	// Returns ErrWorkflowKindMismatch if the thread already exists under a
	// different workflow kind.
	Save(ctx context.Context, s *Session) error

	// Load retrieves a session by thread ID.
	// Returns ErrSessionNotFound if the thread doesn't exist.
	Load(ctx context.Context, threadID string) (*Session, error)

	// Delete removes a session. Deleting a missing thread is not an error.
	Delete(ctx context.Context, threadID string) error

	// List returns sessions for a workflow kind matching the filter options.
	// An empty kind matches all workflows.
	List(ctx context.Context, kind WorkflowKind, opts ListOptions) ([]*Session, error)

	// Close releases any resources held by the store.
	Close() error
}

// TurnLocker serializes turns per thread. Stores that can coordinate across
// nodes (Redis) implement this; single-node deployments use KeyedTurnLock.
type TurnLocker interface {
	// AcquireTurn takes the per-thread turn lock. It returns a release
	// function on success and ErrTurnInFlight if the thread is busy.
	AcquireTurn(ctx context.Context, threadID string) (release func(), err error)
}

// ListOptions provides filtering for session listing.
type ListOptions struct {
	// UserID filters sessions by user.
	UserID string
	// Limit caps the number of results.
	Limit int
	// Offset skips the first N results.
	Offset int
}

// safeIDPattern defines the allowed characters for thread IDs.
// Only alphanumeric characters, hyphens, and underscores are allowed.
var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateThreadID validates that a thread ID is safe and does not contain
// path traversal characters.
func ValidateThreadID(id string) error {
	if id == "" {
		return fmt.Errorf("thread ID cannot be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("thread ID too long (max 256 characters)")
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("thread ID contains invalid characters: only alphanumeric, hyphens, and underscores allowed")
	}
	return nil
}
