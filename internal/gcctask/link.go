package gcctask

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/subprocess"
)

// Link links an executable from a set of source files, compiling each one
// via Compile first. The object files are declared as input files (never as
// explicit core.Task dependencies): core.File.Run already drives a file's
// generator task, which is how the Python original's comment
// "added implicitly through input_files" is expressed here too.
type Link struct {
	env          *Env
	task         *core.Task
	Target       string
	SourceFiles  []string
	LDScript     string
	objectTasks  []*Compile
	ELFFile      string
}

// NewLink returns the Link task producing target (a path relative to
// env.BuildDir) from sourceFiles. ldScript, if non-empty, is passed to the
// linker via -T and added as an input file.
func NewLink(env *Env, target string, sourceFiles []string, ldScript string) (*Link, error) {
	id := core.NewTaskID("link", env.BuildDir, target)
	t, err := core.NewTask(env.ctx, id)
	if err != nil {
		return nil, xerrors.Errorf("gcctask: link %s: %w", target, err)
	}

	l := &Link{
		env:         env,
		task:        t,
		Target:      target,
		SourceFiles: sourceFiles,
		LDScript:    ldScript,
		ELFFile:     filepath.Join(env.BuildDir, target),
	}
	t.Body = l

	for _, src := range sourceFiles {
		c, err := NewCompile(env, src)
		if err != nil {
			return nil, err
		}
		l.objectTasks = append(l.objectTasks, c)
		t.AddInputFiles(c.ObjectFile)
	}
	t.AddOutputFiles(l.ELFFile)
	if ldScript != "" {
		t.AddInputFiles(ldScript)
	}
	return l, nil
}

// Task returns the underlying scheduler task.
func (l *Link) Task() *core.Task { return l.task }

// InputMetadata implements core.InputMetadataProvider.
func (l *Link) InputMetadata() map[string]interface{} {
	return map[string]interface{}{
		"toolchain_prefix": l.env.ToolchainPrefix,
		"toolchain_suffix": l.env.ToolchainSuffix,
		"source_files":     l.SourceFiles,
		"ld_script":        l.LDScript,
		"flags":            l.env.LDFlags,
	}
}

// Run implements core.Body, returning the path to the linked ELF file.
func (l *Link) Run(ctx context.Context) (interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(l.ELFFile), 0755); err != nil {
		return nil, xerrors.Errorf("gcctask: link %s: %w", l.Target, err)
	}

	ldflags := append([]string(nil), l.env.LDFlags...)
	if l.LDScript != "" {
		ldflags = append(ldflags, "-T", l.LDScript)
	}

	argv := append([]string{l.env.ToolchainPrefix + "g++" + l.env.ToolchainSuffix}, ldflags...)
	for _, c := range l.objectTasks {
		argv = append(argv, c.ObjectFile)
	}
	argv = append(argv, "-o", l.ELFFile)

	if err := subprocess.Run(ctx, argv); err != nil {
		return nil, err
	}
	return l.ELFFile, nil
}
