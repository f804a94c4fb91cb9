package gcctask

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/cache"
	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/subprocess"
)

func init() {
	cache.Register(CompileResult{})
}

// CompileResult is what Compile.Run returns and what gets persisted in the
// cache: the set of module names this translation unit imported and the set
// it produced, both discovered live from the module-mapper connection the
// compiler made while running.
type CompileResult struct {
	ModulesRequired  []string
	ModulesGenerated []string
}

// Compile compiles one C or C++ translation unit to an object file. When
// env.Mapper() is non-nil the compiler is pointed at it via
// -fmodule-mapper, and MODULE-IMPORT/MODULE-COMPILED traffic on that
// connection is attributed back to this task (internal/mapper.ModuleTracker).
type Compile struct {
	env        *Env
	task       *core.Task
	SourceFile string
	ObjectFile string

	mu               sync.Mutex
	modulesRequired  []string
	modulesGenerated []string
}

// NewCompile returns the Compile task for sourceFile within env, creating it
// if it doesn't already exist. A second call for the same (env, sourceFile)
// within the same Env returns the original task, mirroring the Python
// original's Task.__new__ interning; a collision against a *different* Env
// is a bug and is returned as an error.
func NewCompile(env *Env, sourceFile string) (*Compile, error) {
	id := core.NewTaskID("compile", env.BuildDir, sourceFile)
	t, err := core.NewTask(env.ctx, id)
	if err != nil {
		var exists *core.TaskExistsError
		if errors.As(err, &exists) {
			if c, ok := exists.Existing.Body.(*Compile); ok && c.env == env {
				return c, nil
			}
		}
		return nil, xerrors.Errorf("gcctask: compile %s: %w", sourceFile, err)
	}

	c := &Compile{
		env:        env,
		task:       t,
		SourceFile: sourceFile,
		ObjectFile: objectFileFor(env.BuildDir, sourceFile),
	}
	t.Body = c
	t.AddInputFiles(sourceFile)
	t.AddOutputFiles(c.ObjectFile)
	return c, nil
}

// Task returns the underlying scheduler task, for callers (Link) that need
// to reference its declared output files.
func (c *Compile) Task() *core.Task { return c.task }

// InputMetadata implements core.InputMetadataProvider.
func (c *Compile) InputMetadata() map[string]interface{} {
	return map[string]interface{}{
		"toolchain_prefix": c.env.ToolchainPrefix,
		"toolchain_suffix": c.env.ToolchainSuffix,
		"flags":            flagsFor(c.env, c.SourceFile),
		"defines":          c.env.Defines,
		"include_path":     c.env.IncludePath,
	}
}

// PreRun implements core.PreRunner: an early up-to-date check that, if this
// task turns out cached, awaits every module the cached result says it
// required, so that the tasks producing those modules run (and provide them
// in this build's registry) before this task is declared a cache hit.
func (c *Compile) PreRun(ctx context.Context) error {
	if c.env.Mapper() == nil {
		return nil
	}
	if !c.task.UpToDate() {
		return nil
	}
	cached, ok := c.task.CachedResult()
	if !ok {
		return nil
	}
	result, ok := cached.(CompileResult)
	if !ok {
		return nil
	}
	for _, module := range result.ModulesRequired {
		if err := c.env.Mapper().Registry().ModuleRequired(ctx, module); err != nil {
			return err
		}
	}
	return nil
}

// Run implements core.Body.
func (c *Compile) Run(ctx context.Context) (interface{}, error) {
	objectFile := c.ObjectFile
	depFile := depFileFor(objectFile)

	if err := os.MkdirAll(filepath.Dir(objectFile), 0755); err != nil {
		return nil, xerrors.Errorf("gcctask: compile %s: %w", c.SourceFile, err)
	}

	flags := flagsFor(c.env, c.SourceFile)
	if !isCSource(c.SourceFile) && c.env.Mapper() != nil {
		flags = append(flags, "-fmodules-ts", c.env.Mapper().GCCArg(c.task.ID.Mangled()))
	}
	flags = appendDefinesAndIncludes(flags, c.env)

	argv := append([]string{compilerFor(c.env, c.SourceFile)}, flags...)
	argv = append(argv, "-c", c.SourceFile, "-o", objectFile, "-MMD", "-MF", depFile)

	if err := subprocess.Run(ctx, argv); err != nil {
		return nil, err
	}

	fileDeps, err := parseDepFile(depFile, objectFile)
	if err != nil {
		return nil, xerrors.Errorf("gcctask: compile %s: %w", c.SourceFile, err)
	}

	var extra []string
	for _, f := range fileDeps {
		if f == c.SourceFile || strings.HasSuffix(f, ".c++m") {
			continue
		}
		extra = append(extra, f)
	}
	c.task.AddInputFiles(extra...)

	c.mu.Lock()
	result := CompileResult{
		ModulesRequired:  append([]string(nil), c.modulesRequired...),
		ModulesGenerated: append([]string(nil), c.modulesGenerated...),
	}
	c.mu.Unlock()

	if c.env.Mapper() != nil {
		for _, module := range result.ModulesGenerated {
			c.task.AddOutputFiles(c.env.Mapper().GCMPath(module))
		}
	}

	return result, nil
}

// PostRun implements core.PostRunner: regardless of whether Run actually
// executed this build (a cache hit skips straight here with the cached
// Result already installed), every module this compile produced is marked
// provided in the per-build module registry, since that registry is rebuilt
// from scratch every invocation.
func (c *Compile) PostRun(ctx context.Context) error {
	if c.env.Mapper() == nil {
		return nil
	}
	result, ok := c.task.Result().(CompileResult)
	if !ok {
		return nil
	}
	registry := c.env.Mapper().Registry()
	for _, m := range result.ModulesGenerated {
		if !registry.ModuleExists(m) {
			registry.ModuleProvided(m)
		}
	}
	return nil
}

// ModuleRequired implements mapper.ModuleTracker.
func (c *Compile) ModuleRequired(name string) {
	c.mu.Lock()
	c.modulesRequired = append(c.modulesRequired, name)
	c.mu.Unlock()
}

// ModuleGenerated implements mapper.ModuleTracker.
func (c *Compile) ModuleGenerated(name string) {
	c.mu.Lock()
	c.modulesGenerated = append(c.modulesGenerated, name)
	c.mu.Unlock()
}

// parseDepFile parses a Makefile-style .d file (as written by -MMD -MF) and
// returns the dependencies listed for target, with continuation lines
// joined the way GCC emits them (a trailing backslash before the newline).
func parseDepFile(path, target string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	contents := strings.ReplaceAll(string(raw), "\\\n", " ")

	depmap := make(map[string][]string)
	scanner := bufio.NewScanner(strings.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Count(line, ":") != 1 {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		targets := strings.Fields(parts[0])
		deps := strings.Fields(strings.ReplaceAll(parts[1], "|", ""))
		for _, t := range targets {
			depmap[t] = append(depmap[t], deps...)
		}
	}
	return depmap[target], scanner.Err()
}
