package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// turnLockTTL bounds how long a crashed node can hold a thread's turn lock.
const turnLockTTL = 60 * time.Second

// RedisBackend implements Store and TurnLocker using Redis.
// It provides distributed session storage suitable for multi-node deployments.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all session keys (default: "tutorgo:session:").
	Prefix string
	// SessionTTL is the session expiry duration (0 = never expire).
	SessionTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a new Redis session store.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tutorgo:session:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    cfg.SessionTTL,
	}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "tutorgo:session:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (b *RedisBackend) threadKey(threadID string) string {
	return b.prefix + "thread:" + threadID
}

func (b *RedisBackend) kindIndexKey(kind WorkflowKind) string {
	return b.prefix + "kind:" + string(kind)
}

func (b *RedisBackend) userIndexKey(userID string) string {
	return b.prefix + "user:" + userID
}

func (b *RedisBackend) turnLockKey(threadID string) string {
	return b.prefix + "turn:" + threadID
}

// Save creates or updates a session.
func (b *RedisBackend) Save(ctx context.Context, sess *Session) error {
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

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := b.client.Pipeline()

	// Save session record
	if b.ttl > 0 {
		pipe.Set(ctx, b.threadKey(sess.ThreadID), data, b.ttl)
	} else {
		pipe.Set(ctx, b.threadKey(sess.ThreadID), data, 0)
	}

	// Add to workflow kind index
	pipe.SAdd(ctx, b.kindIndexKey(sess.WorkflowKind), sess.ThreadID)

	// Add to user index if user ID provided
	if sess.UserID != "" {
		pipe.SAdd(ctx, b.userIndexKey(sess.UserID), sess.ThreadID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// Load retrieves a session by thread ID.
func (b *RedisBackend) Load(ctx context.Context, threadID string) (*Session, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	data, err := b.client.Get(ctx, b.threadKey(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &sess, nil
}

// Delete removes a session and its index entries.
func (b *RedisBackend) Delete(ctx context.Context, threadID string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	// Load first to find index memberships
	sess, err := b.Load(ctx, threadID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.threadKey(threadID))
	if sess != nil {
		pipe.SRem(ctx, b.kindIndexKey(sess.WorkflowKind), threadID)
		if sess.UserID != "" {
			pipe.SRem(ctx, b.userIndexKey(sess.UserID), threadID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// List returns sessions for a workflow kind matching the filter options.
func (b *RedisBackend) List(ctx context.Context, kind WorkflowKind, opts ListOptions) ([]*Session, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	var threadIDs []string
	var err error

	switch {
	case kind != "" && opts.UserID != "":
		threadIDs, err = b.client.SInter(ctx,
			b.kindIndexKey(kind),
			b.userIndexKey(opts.UserID),
		).Result()
	case kind != "":
		threadIDs, err = b.client.SMembers(ctx, b.kindIndexKey(kind)).Result()
	case opts.UserID != "":
		threadIDs, err = b.client.SMembers(ctx, b.userIndexKey(opts.UserID)).Result()
	default:
		threadIDs, err = b.allThreadIDs(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Sort thread IDs for deterministic pagination (Redis sets are unordered)
	sort.Strings(threadIDs)

	start := opts.Offset
	if start >= len(threadIDs) {
		return []*Session{}, nil
	}
	end := len(threadIDs)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	threadIDs = threadIDs[start:end]

	sessions := make([]*Session, 0, len(threadIDs))
	for _, id := range threadIDs {
		sess, err := b.Load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Session expired or deleted, clean up index
				if kind != "" {
					b.client.SRem(ctx, b.kindIndexKey(kind), id)
				}
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// allThreadIDs unions the per-kind indexes.
func (b *RedisBackend) allThreadIDs(ctx context.Context) ([]string, error) {
	return b.client.SUnion(ctx,
		b.kindIndexKey(WorkflowChat),
		b.kindIndexKey(WorkflowQuiz),
		b.kindIndexKey(WorkflowAnswer),
	).Result()
}

// AcquireTurn takes the distributed per-thread turn lock via SETNX.
func (b *RedisBackend) AcquireTurn(ctx context.Context, threadID string) (func(), error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	b.mu.RUnlock()

	key := b.turnLockKey(threadID)
	ok, err := b.client.SetNX(ctx, key, "1", turnLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return nil, ErrTurnInFlight
	}

	release := func() {
		// Release on a background context so a cancelled turn still unlocks
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.client.Del(relCtx, key).Err()
	}
	return release, nil
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStorageClosed
	}
	b.mu.RUnlock()

	return b.client.Ping(ctx).Err()
}
