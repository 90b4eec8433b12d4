package session

import (
	"context"
	"sync"
)

// KeyedTurnLock implements TurnLocker with in-process per-thread mutexes.
// Suitable for single-node deployments; multi-node setups should use the
// Redis backend's distributed lock instead.
type KeyedTurnLock struct {
	mu      sync.Mutex
	inUse   map[string]struct{}
}

// NewKeyedTurnLock creates a new in-process turn lock.
func NewKeyedTurnLock() *KeyedTurnLock {
	return &KeyedTurnLock{
		inUse: make(map[string]struct{}),
	}
}

// AcquireTurn takes the per-thread lock without blocking.
// A second concurrent turn on the same thread gets ErrTurnInFlight
// immediately rather than queueing behind the first.
func (l *KeyedTurnLock) AcquireTurn(ctx context.Context, threadID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inUse[threadID]; busy {
		return nil, ErrTurnInFlight
	}
	l.inUse[threadID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.inUse, threadID)
			l.mu.Unlock()
		})
	}
	return release, nil
}
