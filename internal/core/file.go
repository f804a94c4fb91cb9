package core

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// File is an interned filesystem path, optionally owned by the one task
// that generates it.
type File struct {
	ctx  *Context
	Path string

	generatorTask *Task // set at most once
}

// FileFor returns the interned File for path within ctx, creating it on
// first reference. path is made absolute so that two different spellings of
// the same file always intern to a single File.
func FileFor(ctx *Context, path string) *File {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	ctx.filesMu.Lock()
	defer ctx.filesMu.Unlock()

	if f, ok := ctx.files[abs]; ok {
		return f
	}
	f := &File{ctx: ctx, Path: abs}
	ctx.files[abs] = f
	return f
}

// GeneratorTask returns the task that produces this file, if any.
func (f *File) GeneratorTask() *Task {
	return f.generatorTask
}

// setGeneratorTask claims generatorship of f. It is a programmer error to
// call this twice for the same file.
func (f *File) setGeneratorTask(t *Task) {
	if f.generatorTask != nil {
		panic(xerrors.Errorf("BUG: file %s already has generator task %s", f.Path, f.generatorTask.ID.Display()))
	}
	f.generatorTask = t
}

// Run drives this file's generator task (if any) to completion and then
// asserts the file exists on disk.
func (f *File) Run(ctx context.Context) error {
	if f.generatorTask != nil {
		if err := f.generatorTask.Run(ctx); err != nil {
			return err
		}
	}
	if _, err := os.Stat(f.Path); err != nil {
		return xerrors.Errorf("BUG: file %s does not exist after its generator ran: %w", f.Path, err)
	}
	return nil
}

// Fingerprint computes this file's current fingerprint. The file must exist.
func (f *File) Fingerprint() (Fingerprint, error) {
	return CreateFingerprint(f.Path)
}
