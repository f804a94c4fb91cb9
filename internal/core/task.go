package core

import (
	"context"
	"os"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Body is the mandatory half of a task's behavior: the work that actually
// produces the task's outputs. Concrete task types (internal/gcctask,
// internal/template) hold a *Task and implement Body (plus whichever of the
// optional interfaces below apply), mirroring the Python original's
// Task subclasses overriding run()/pre_run()/post_run()/dynamic_deps().
type Body interface {
	Run(ctx context.Context) (interface{}, error)
}

// InputMetadataProvider lets a Body contribute to the cache key. Pure and
// deterministic: same inputs, same map, every call.
type InputMetadataProvider interface {
	InputMetadata() map[string]interface{}
}

// DynamicDepsProvider lets a Body add further input files discovered only
// after its static dependencies have run (e.g. a compiler's dependency
// scan). Called once, after static dependencies complete and before the
// task's input file generators are driven a second time.
type DynamicDepsProvider interface {
	DynamicDeps(ctx context.Context) ([]*Task, error)
}

// PreRunner runs before a concurrency permit is acquired — useful for an
// early up-to-date check that itself needs to await sibling work (see
// gcctask.Compile.PreRun).
type PreRunner interface {
	PreRun(ctx context.Context) error
}

// PostRunner runs after Body.Run (or after a cache hit is declared
// up-to-date) while the concurrency permit is still held.
type PostRunner interface {
	PostRun(ctx context.Context) error
}

// Task is one node in the dependency graph: a unit of work with static and
// dynamically discovered dependencies, declared input/output files, a
// cached result, and a Body that actually does the work.
type Task struct {
	ctx  *Context
	ID   TaskID
	Body Body

	depsMu       sync.Mutex
	dependencies []*Task
	inputFiles   []*File
	outputFiles  []*File

	mu     sync.Mutex // serializes concurrent entrants to Run, guards done/result
	done   bool
	result interface{}

	eventsMu sync.Mutex
	events   []Event
}

// NewTask interns a Task under id within ctx. If a task with this id
// already exists, NewTask returns it alongside a *TaskExistsError so the
// caller (typically a domain-specific constructor) can decide whether
// reusing the existing task is fine or whether the collision is a bug.
func NewTask(ctx *Context, id TaskID) (*Task, error) {
	ctx.tasksMu.Lock()
	defer ctx.tasksMu.Unlock()

	key := id.Mangled()
	if existing, ok := ctx.tasks[key]; ok {
		return existing, &TaskExistsError{ID: id, Existing: existing}
	}
	t := &Task{ctx: ctx, ID: id}
	ctx.tasks[key] = t
	return t, nil
}

// AddDependencies declares further static dependency tasks.
func (t *Task) AddDependencies(deps ...*Task) {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	t.dependencies = append(t.dependencies, deps...)
}

// AddInputFiles declares read dependencies on the given paths. May be
// called both at construction time and from within DynamicDeps.
func (t *Task) AddInputFiles(paths ...string) {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	for _, p := range paths {
		t.inputFiles = append(t.inputFiles, FileFor(t.ctx, p))
	}
}

// AddOutputFiles claims generatorship of the given paths. At most one task
// may claim a given path.
func (t *Task) AddOutputFiles(paths ...string) {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	for _, p := range paths {
		f := FileFor(t.ctx, p)
		f.setGeneratorTask(t)
		t.outputFiles = append(t.outputFiles, f)
	}
}

// InputFiles returns the task's currently declared input files.
func (t *Task) InputFiles() []*File {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	out := make([]*File, len(t.inputFiles))
	copy(out, t.inputFiles)
	return out
}

// OutputFiles returns the task's declared output files.
func (t *Task) OutputFiles() []*File {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	out := make([]*File, len(t.outputFiles))
	copy(out, t.outputFiles)
	return out
}

// Dependencies returns the task's static dependencies.
func (t *Task) Dependencies() []*Task {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	out := make([]*Task, len(t.dependencies))
	copy(out, t.dependencies)
	return out
}

// Done reports whether the task has finished successfully.
func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Result returns the task's cached or freshly computed result. Only
// meaningful once Done reports true.
func (t *Task) Result() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) inputMetadata() map[string]interface{} {
	if p, ok := t.Body.(InputMetadataProvider); ok {
		return p.InputMetadata()
	}
	return map[string]interface{}{}
}

func (t *Task) dynamicDeps(ctx context.Context) ([]*Task, error) {
	if p, ok := t.Body.(DynamicDepsProvider); ok {
		return p.DynamicDeps(ctx)
	}
	return nil, nil
}

func (t *Task) preRun(ctx context.Context) error {
	if p, ok := t.Body.(PreRunner); ok {
		return p.PreRun(ctx)
	}
	return nil
}

func (t *Task) postRun(ctx context.Context) error {
	if p, ok := t.Body.(PostRunner); ok {
		return p.PostRun(ctx)
	}
	return nil
}

// Run drives the task to completion: static dependencies and input-file
// generators, then dynamic dependency discovery, then a second pass over
// (possibly newly added) input files, pre_run, permit acquisition, the
// up-to-date check or the body itself followed by the cache write, and
// finally post_run. See spec §4.3 for the numbered algorithm this implements.
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}

	if err := t.runDepsAndInputFiles(ctx); err != nil {
		return err
	}

	dynDeps, err := t.dynamicDeps(ctx)
	if err != nil {
		return xerrors.Errorf("%s: dynamic_deps: %w", t.ID.Display(), err)
	}
	if err := runTasks(ctx, dynDeps); err != nil {
		return err
	}

	// Input files may have grown during dynamic_deps; drive their
	// generators too.
	if err := runFiles(ctx, t.InputFiles()); err != nil {
		return err
	}

	if err := t.preRun(ctx); err != nil {
		return xerrors.Errorf("%s: pre_run: %w", t.ID.Display(), err)
	}

	if err := t.ctx.sem.Acquire(ctx); err != nil {
		return err
	}
	t.appendEvent(StateRunning)

	var runErr error
	if t.UpToDate() {
		rec, _ := t.ctx.Cache.Get(t.ID.Mangled())
		t.result = rec.Result
	} else {
		t.result, runErr = t.Body.Run(ctx)
		if runErr == nil {
			runErr = t.saveCache()
		} else {
			runErr = xerrors.Errorf("%s: %w", t.ID.Display(), runErr)
		}
	}

	if runErr == nil {
		if err := t.postRun(ctx); err != nil {
			runErr = xerrors.Errorf("%s: post_run: %w", t.ID.Display(), err)
		}
	}

	if runErr == nil {
		t.appendEvent(StateDone)
	}
	t.ctx.sem.Release()

	if runErr != nil {
		return runErr
	}

	t.done = true
	return nil
}

func (t *Task) runDepsAndInputFiles(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range t.Dependencies() {
		d := d
		g.Go(func() error { return d.Run(gctx) })
	}
	for _, f := range t.InputFiles() {
		f := f
		g.Go(func() error { return f.Run(gctx) })
	}
	return g.Wait()
}

func runTasks(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, tsk := range tasks {
		tsk := tsk
		g.Go(func() error { return tsk.Run(gctx) })
	}
	return g.Wait()
}

func runFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		f := f
		g.Go(func() error { return f.Run(gctx) })
	}
	return g.Wait()
}

// normalizeMetadata collapses a zero-length slice or map to nil, recursing
// into map values. gob always decodes a zero-length slice or map back as
// nil, so an InputMetadata built fresh in memory (which may hold a non-nil
// empty slice, e.g. gcctask.flagsFor's make([]string, 0)) would otherwise
// compare unequal to the same metadata read back from a persistent Store
// even though nothing about the inputs actually changed.
func normalizeMetadata(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		if len(x) == 0 {
			return map[string]interface{}(nil)
		}
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = normalizeMetadata(e)
		}
		return out
	case map[string]string:
		if len(x) == 0 {
			return map[string]string(nil)
		}
		return x
	case []interface{}:
		if len(x) == 0 {
			return []interface{}(nil)
		}
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalizeMetadata(e)
		}
		return out
	case []string:
		if len(x) == 0 {
			return []string(nil)
		}
		return x
	default:
		return v
	}
}

// UpToDate reports whether the cache already holds a valid result for this
// task: a matching input_metadata, every file fingerprint still checking
// out, and every declared output still present on disk. Exposed so a
// PreRunner (see gcctask.Compile) can perform the same early check the
// Python original's Task.pre_run does, before the permit is acquired.
func (t *Task) UpToDate() bool {
	rec, ok := t.ctx.Cache.Get(t.ID.Mangled())
	if !ok {
		return false
	}

	if !reflect.DeepEqual(normalizeMetadata(rec.InputMetadata), normalizeMetadata(t.inputMetadata())) {
		return false
	}

	for path, fp := range rec.FileFingerprints {
		if !fp.Check(path) {
			return false
		}
	}

	for _, f := range t.InputFiles() {
		if _, err := os.Stat(f.Path); err != nil {
			panic(xerrors.Errorf("BUG: required file %s for task %s does not exist: %w", f.Path, t.ID.Display(), err))
		}
	}

	for _, f := range t.OutputFiles() {
		if _, err := os.Stat(f.Path); err != nil {
			return false
		}
	}

	return true
}

// CachedResult returns the Result of the cache record currently stored under
// this task's ID, without checking whether that record is still valid. A
// PreRunner uses this alongside UpToDate to see what a cache hit's Run would
// produce before actually committing to declaring the task up to date (see
// gcctask.Compile.PreRun), so that cached dependencies (e.g. imported
// modules) can be awaited ahead of the real up-to-date check.
func (t *Task) CachedResult() (interface{}, bool) {
	rec, ok := t.ctx.Cache.Get(t.ID.Mangled())
	if !ok {
		return nil, false
	}
	return rec.Result, true
}

// saveCache snapshots the current input/output file set — which may have
// grown since construction via dynamic_deps or a mapper callback — and
// writes it alongside the current input metadata and result.
func (t *Task) saveCache() error {
	inputs := t.InputFiles()
	outputs := t.OutputFiles()

	fps := make(map[string]Fingerprint, len(inputs)+len(outputs))
	for _, f := range inputs {
		fp, err := f.Fingerprint()
		if err != nil {
			return err
		}
		fps[f.Path] = fp
	}
	for _, f := range outputs {
		fp, err := f.Fingerprint()
		if err != nil {
			return err
		}
		fps[f.Path] = fp
	}

	return t.ctx.Cache.Set(t.ID.Mangled(), CacheRecord{
		InputMetadata:    t.inputMetadata(),
		FileFingerprints: fps,
		Result:           t.result,
	})
}

// MarkSuspended releases this task's concurrency permit for the duration of
// fn and re-acquires it before returning, recording suspended/running
// events around the call. This is the sole mechanism by which a task
// blocked on an external signal (principally a module-mapper import) avoids
// holding a permit that some other task needs in order to make progress.
func (t *Task) MarkSuspended(ctx context.Context, fn func(context.Context) error) error {
	t.appendEvent(StateSuspended)
	t.ctx.sem.Release()
	t.ctx.enterSuspended()

	err := fn(ctx)

	t.ctx.exitSuspended()
	// Re-acquire unconditionally, even if ctx was cancelled mid-fn, so we
	// never return with this task permanently short a permit; a cancelled
	// build still needs every live task to unwind through a consistent
	// semaphore count.
	if aerr := t.ctx.sem.Acquire(context.Background()); aerr != nil {
		if err == nil {
			err = aerr
		}
	} else {
		t.appendEvent(StateRunning)
	}
	return err
}
