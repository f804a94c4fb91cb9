package core

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// permitSemaphore bounds the number of tasks that may be in the "running"
// state at once (spec: the concurrency permit, ≈ make -j). It wraps
// golang.org/x/sync/semaphore.Weighted — the teacher depends on the sibling
// errgroup package from the same module; the engine uses both of that
// module's exported primitives — and additionally tracks how many permits
// are currently free so the deadlock watchdog can observe it without
// reaching into semaphore internals.
type permitSemaphore struct {
	sem   *semaphore.Weighted
	total int64
	avail int64 // atomic
}

func newPermitSemaphore(n int64) *permitSemaphore {
	return &permitSemaphore{sem: semaphore.NewWeighted(n), total: n, avail: n}
}

func (p *permitSemaphore) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&p.avail, -1)
	return nil
}

func (p *permitSemaphore) Release() {
	atomic.AddInt64(&p.avail, 1)
	p.sem.Release(1)
}

// Available reports how many permits are currently unheld.
func (p *permitSemaphore) Available() int64 {
	return atomic.LoadInt64(&p.avail)
}
