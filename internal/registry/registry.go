// Package registry implements the module-name bookkeeping shared by every
// module-mapper connection in a build: which C++20 module names have been
// compiled, and who is waiting on one that hasn't yet. It is the Go
// equivalent of the Python original's ModuleRegistry (asyncio.Future per
// module name), grounded on original_source/erect/lib/gcc/module_mapper.py.
package registry

import (
	"context"
	"sync"
)

// moduleState tracks one module name's provision. done closes exactly once,
// the instant the module is provided; anyone already waiting on it, or
// anyone who starts waiting afterwards, observes the close immediately.
type moduleState struct {
	done chan struct{}
	once sync.Once
}

func newModuleState() *moduleState {
	return &moduleState{done: make(chan struct{})}
}

func (s *moduleState) provide() {
	s.once.Do(func() { close(s.done) })
}

func (s *moduleState) provided() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ModuleRegistry maps module names (as used in C++ import declarations, e.g.
// "std" or "my.app.core") to their provision state. A single ModuleRegistry
// is shared by every connection on one ModuleMapper (internal/mapper), since
// a module compiled by one compiler invocation may be imported by another.
type ModuleRegistry struct {
	mu      sync.Mutex
	modules map[string]*moduleState
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[string]*moduleState)}
}

func (r *ModuleRegistry) stateFor(name string) *moduleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.modules[name]
	if !ok {
		s = newModuleState()
		r.modules[name] = s
	}
	return s
}

// ModuleRequired blocks until name has been provided, or ctx is cancelled.
// Callers compiling a module importing name call this from within
// core.Task.MarkSuspended, so the caller's concurrency permit is released
// for the duration of the wait.
func (r *ModuleRegistry) ModuleRequired(ctx context.Context, name string) error {
	s := r.stateFor(name)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModuleProvided records that name has been compiled, unblocking every
// current and future ModuleRequired(name) caller. Provided names stay
// provided; a second call is a harmless no-op rather than an error, since a
// module's .gcm can legitimately be reported MODULE-COMPILED more than once
// across repeated mapper connections within one build.
func (r *ModuleRegistry) ModuleProvided(name string) {
	r.stateFor(name).provide()
}

// ModuleExists reports whether name has already been provided.
func (r *ModuleRegistry) ModuleExists(name string) bool {
	r.mu.Lock()
	s, ok := r.modules[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return s.provided()
}
