package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Context owns the file and task registries, the cache, the concurrency
// permit and the set of background initializations that must complete
// before any task body runs. It is the scheduler referred to throughout
// spec §4.5. There is no process-wide current Context: every constructor
// that needs one takes it as an argument, and nothing prevents several
// Contexts from existing at the same time.
type Context struct {
	Cache Cache

	filesMu sync.Mutex
	files   map[string]*File

	tasksMu sync.Mutex
	tasks   map[string]*Task

	sem  *permitSemaphore
	jobs int64

	startCorosMu sync.Mutex
	startCoros   []func(context.Context) error

	suspendedMu    sync.Mutex
	suspendedCount int
}

// NewContext creates a scheduler with the given concurrency limit (≈ make
// -j N; at least 1) and cache backend.
func NewContext(jobs int, cache Cache) *Context {
	if jobs < 1 {
		jobs = 1
	}
	return &Context{
		Cache: cache,
		files: make(map[string]*File),
		tasks: make(map[string]*Task),
		sem:   newPermitSemaphore(int64(jobs)),
		jobs:  int64(jobs),
	}
}

// Tasks returns a snapshot of every task registered in this Context.
func (c *Context) Tasks() []*Task {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()
	out := make([]*Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	return out
}

// TaskByID looks up a previously registered task by its exact ID, used by
// the module mapper to attribute a connection to the task that spawned the
// compiler (spec §4.7.1).
func (c *Context) TaskByID(id TaskID) (*Task, bool) {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()
	t, ok := c.tasks[id.Mangled()]
	return t, ok
}

// Files returns a snapshot of every file interned in this Context.
func (c *Context) Files() []*File {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	out := make([]*File, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	return out
}

// StartAsync registers a background initialization (e.g. binding the
// module mapper's listening socket) to run to completion before the first
// task body begins.
func (c *Context) StartAsync(fn func(context.Context) error) {
	c.startCorosMu.Lock()
	defer c.startCorosMu.Unlock()
	c.startCoros = append(c.startCoros, fn)
}

func (c *Context) enterSuspended() {
	c.suspendedMu.Lock()
	c.suspendedCount++
	c.suspendedMu.Unlock()
}

func (c *Context) exitSuspended() {
	c.suspendedMu.Lock()
	c.suspendedCount--
	c.suspendedMu.Unlock()
}

// SuspendedCount reports how many tasks are currently inside MarkSuspended.
func (c *Context) SuspendedCount() int {
	c.suspendedMu.Lock()
	defer c.suspendedMu.Unlock()
	return c.suspendedCount
}

// Run drives every start_coro to completion, then drives roots to
// completion in parallel, cancelling everything on the first failure or on
// a detected stall. It returns a StallError if the deadlock watchdog fires
// before the roots finish.
func (c *Context) Run(ctx context.Context, roots []*Task) error {
	c.startCorosMu.Lock()
	coros := append([]func(context.Context) error(nil), c.startCoros...)
	c.startCorosMu.Unlock()

	for _, fn := range coros {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled atomic.Bool
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		c.watchdog(runCtx, cancel, &stalled)
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for _, r := range roots {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	err := g.Wait()

	cancel()
	<-watchdogDone

	if stalled.Load() {
		return StallError{}
	}
	return err
}

// watchdog polls roughly every 100ms for the signature of a stall: every
// concurrency permit is free (so no task is doing anything the scheduler
// considers "running") while at least one task is suspended awaiting a
// signal that, by construction, can only come from another task regaining
// a permit — which, if every permit is free, cannot happen. This is the
// same approximation the Python original uses ("semaphore at full value and
// no other pending work"), sharpened per spec §9 by counting suspended
// tasks explicitly instead of peeking at the event loop's ready queue.
func (c *Context) watchdog(ctx context.Context, cancel context.CancelFunc, stalled *atomic.Bool) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.sem.Available() >= c.jobs && c.SuspendedCount() > 0 {
				stalled.Store(true)
				cancel()
				return
			}
		}
	}
}
