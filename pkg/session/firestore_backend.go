package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreBackend implements Store on a Firestore collection, one document
// per thread. Document writes are atomic, which gives Save its per-thread
// atomicity for free.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

// FirestoreConfig holds Firestore connection configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project.
	ProjectID string
	// Database is the Firestore database ID ("" = default).
	Database string
	// Collection is the sessions collection name (default: "tutor_sessions").
	Collection string
	// CredentialsFile is an optional service account key path.
	CredentialsFile string
}

// firestoreSession is the stored document shape. State is kept as a JSON
// string because Firestore has no raw-bytes-friendly JSON field type.
type firestoreSession struct {
	ThreadID     string    `firestore:"threadId"`
	WorkflowKind string    `firestore:"workflowKind"`
	UserID       string    `firestore:"userId,omitempty"`
	DocumentID   string    `firestore:"documentId,omitempty"`
	State        string    `firestore:"state"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// NewFirestoreBackend creates a Firestore-backed session store.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "tutor_sessions"
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var client *firestore.Client
	var err error
	if cfg.Database != "" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreBackend{
		client:     client,
		collection: collection,
	}, nil
}

// NewFirestoreBackendFromClient creates a backend from an existing client.
// This is useful for testing against the Firestore emulator.
func NewFirestoreBackendFromClient(client *firestore.Client, collection string) *FirestoreBackend {
	if collection == "" {
		collection = "tutor_sessions"
	}
	return &FirestoreBackend{
		client:     client,
		collection: collection,
	}
}

func (b *FirestoreBackend) doc(threadID string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(threadID)
}

// Save creates or updates a session document.
func (b *FirestoreBackend) Save(ctx context.Context, sess *Session) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	if err := ValidateThreadID(sess.ThreadID); err != nil {
		return err
	}

	existing, err := b.Load(ctx, sess.ThreadID)
	if err == nil {
		if existing.WorkflowKind != sess.WorkflowKind {
			return ErrWorkflowKindMismatch
		}
		sess.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrSessionNotFound) {
		return err
	} else if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = time.Now().UTC()

	doc := firestoreSession{
		ThreadID:     sess.ThreadID,
		WorkflowKind: string(sess.WorkflowKind),
		UserID:       sess.UserID,
		DocumentID:   sess.DocumentID,
		State:        string(sess.State),
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}

	if _, err := b.doc(sess.ThreadID).Set(ctx, doc); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// Load retrieves a session document by thread ID.
func (b *FirestoreBackend) Load(ctx context.Context, threadID string) (*Session, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	snap, err := b.doc(threadID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var doc firestoreSession
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	return docToSession(&doc), nil
}

// Delete removes a session document.
func (b *FirestoreBackend) Delete(ctx context.Context, threadID string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	if _, err := b.doc(threadID).Delete(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// List returns sessions matching the kind and filter options.
func (b *FirestoreBackend) List(ctx context.Context, kind WorkflowKind, opts ListOptions) ([]*Session, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	q := b.client.Collection(b.collection).Query
	if kind != "" {
		q = q.Where("workflowKind", "==", string(kind))
	}
	if opts.UserID != "" {
		q = q.Where("userId", "==", opts.UserID)
	}
	q = q.OrderBy("threadId", firestore.Asc)
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*Session
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}

		var doc firestoreSession
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, docToSession(&doc))
	}

	return out, nil
}

// Close releases the Firestore client.
func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}

func docToSession(doc *firestoreSession) *Session {
	return &Session{
		ThreadID:     doc.ThreadID,
		WorkflowKind: WorkflowKind(doc.WorkflowKind),
		UserID:       doc.UserID,
		DocumentID:   doc.DocumentID,
		State:        json.RawMessage(doc.State),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
