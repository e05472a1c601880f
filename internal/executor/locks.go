package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dexsniper/internal/domain"
)

// LocalLocks is an in-process domain.LockManager for single-instance runs
// and tests. Expired locks are taken over.
type LocalLocks struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocalLocks creates a LocalLocks.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, fmt.Errorf("executor: lock %s: %w", key, domain.ErrLockHeld)
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key].Equal(until) {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

var _ domain.LockManager = (*LocalLocks)(nil)
