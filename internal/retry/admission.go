package retry

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Admission bounds the number of in-flight requests per destination.
// It is distinct from, and not a replacement for, internal/ratelimit's
// shared 429 backoff.
type Admission struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	width int64
}

// NewAdmission builds an Admission gate that allows at most width
// concurrent in-flight requests per destination key. width <= 0 means
// unbounded (Acquire/Release become no-ops).
func NewAdmission(width int64) *Admission {
	return &Admission{sems: make(map[string]*semaphore.Weighted), width: width}
}

// Acquire blocks until a slot for destination is free or ctx is done.
// The returned release func must be called exactly once.
func (a *Admission) Acquire(ctx context.Context, destination string) (release func(), err error) {
	if a.width <= 0 {
		return func() {}, nil
	}
	sem := a.semFor(destination)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (a *Admission) semFor(destination string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	sem, ok := a.sems[destination]
	if !ok {
		sem = semaphore.NewWeighted(a.width)
		a.sems[destination] = sem
	}
	return sem
}
