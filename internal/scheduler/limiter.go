package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many jobs of one account are processing at once. The
// returned release func must be called exactly once; extra calls are no-ops.
type Limiter interface {
	Acquire(ctx context.Context, accountID string) (release func(), err error)
}

// LocalLimiter enforces the account limit inside one process.
type LocalLimiter struct {
	limit int64

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLocalLimiter allows limit concurrent slots per account.
func NewLocalLimiter(limit int) *LocalLimiter {
	if limit < 1 {
		limit = 1
	}
	return &LocalLimiter{limit: int64(limit), sems: make(map[string]*semaphore.Weighted)}
}

func (l *LocalLimiter) Acquire(ctx context.Context, accountID string) (func(), error) {
	sem := l.semaphore(accountID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (l *LocalLimiter) semaphore(accountID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[accountID]
	if !ok {
		sem = semaphore.NewWeighted(l.limit)
		l.sems[accountID] = sem
	}
	return sem
}

var _ Limiter = (*LocalLimiter)(nil)
