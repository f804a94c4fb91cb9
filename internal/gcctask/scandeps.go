package gcctask

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/cache"
	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/subprocess"
)

func init() {
	cache.Register(ScanDepsResult{})
}

// ScanDepsResult is ScanDeps.Run's return value, derived entirely from the
// compiler's preprocessor-only dependency output rather than from a live
// module-mapper connection — unlike Compile's CompileResult, a scan never
// touches a real mapper (it runs -E, which GCC accepts -fmodule-mapper
// alongside but never dials), so module names here come from `.c++m` target
// stems in the .d file instead.
type ScanDepsResult struct {
	FileDeps   []string
	ModuleDeps []string
	ModuleGens []string
}

// ScanDeps runs a preprocessor-only pass (`-E -MMD`) to discover a
// translation unit's file and module dependencies without compiling it.
// Grounded on original_source/erect/lib/gcc.py's ScanDeps, offered as a
// standalone task for build graphs that want dependency discovery and
// compilation as separately cacheable steps (see ModuleCheck, which
// consumes ScanDeps results directly).
type ScanDeps struct {
	env        *Env
	task       *core.Task
	SourceFile string
	ObjectFile string
	DepFile    string
}

// NewScanDeps returns the ScanDeps task for sourceFile within env.
func NewScanDeps(env *Env, sourceFile string) (*ScanDeps, error) {
	id := core.NewTaskID("scan_deps", env.BuildDir, sourceFile)
	t, err := core.NewTask(env.ctx, id)
	if err != nil {
		var exists *core.TaskExistsError
		if errors.As(err, &exists) {
			if s, ok := exists.Existing.Body.(*ScanDeps); ok && s.env == env {
				return s, nil
			}
		}
		return nil, xerrors.Errorf("gcctask: scan_deps %s: %w", sourceFile, err)
	}

	objectFile := objectFileFor(env.BuildDir, sourceFile)
	s := &ScanDeps{
		env:        env,
		task:       t,
		SourceFile: sourceFile,
		ObjectFile: objectFile,
		DepFile:    depFileFor(objectFile),
	}
	t.Body = s
	t.AddInputFiles(sourceFile)
	t.AddOutputFiles(s.DepFile)
	return s, nil
}

// Task returns the underlying scheduler task.
func (s *ScanDeps) Task() *core.Task { return s.task }

// InputMetadata implements core.InputMetadataProvider.
func (s *ScanDeps) InputMetadata() map[string]interface{} {
	return map[string]interface{}{
		"toolchain_prefix": s.env.ToolchainPrefix,
		"toolchain_suffix": s.env.ToolchainSuffix,
		"flags":            flagsFor(s.env, s.SourceFile),
		"defines":          s.env.Defines,
		"include_path":     s.env.IncludePath,
	}
}

// Run implements core.Body.
func (s *ScanDeps) Run(ctx context.Context) (interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(s.ObjectFile), 0755); err != nil {
		return nil, xerrors.Errorf("gcctask: scan_deps %s: %w", s.SourceFile, err)
	}

	flags := flagsFor(s.env, s.SourceFile)
	if !isCSource(s.SourceFile) && s.env.Mapper() != nil {
		flags = append(flags, "-fmodules-ts", s.env.Mapper().GCCArg(s.task.ID.Mangled()))
	}
	flags = appendDefinesAndIncludes(flags, s.env)

	argv := append([]string{compilerFor(s.env, s.SourceFile)}, flags...)
	argv = append(argv, "-MMD", "-E", s.SourceFile, "-MT", s.ObjectFile, "-MF", s.DepFile)

	if err := subprocess.RunSilent(ctx, argv); err != nil {
		return nil, err
	}

	deps, err := parseDepFile(s.DepFile, s.ObjectFile)
	if err != nil {
		return nil, xerrors.Errorf("gcctask: scan_deps %s: %w", s.SourceFile, err)
	}

	var fileDeps, moduleDeps, moduleGens []string
	for _, f := range deps {
		if strings.HasSuffix(f, ".c++m") {
			fileDeps = append(fileDeps, filepath.Join(s.env.BuildDir, "cmi", strings.TrimSuffix(f, ".c++m")+".gcm"))
			moduleDeps = append(moduleDeps, strings.TrimSuffix(f, ".c++m"))
		} else {
			fileDeps = append(fileDeps, f)
		}
	}
	for _, f := range parsePhonyDeps(s.DepFile) {
		if strings.HasSuffix(f, ".c++m") {
			moduleGens = append(moduleGens, strings.TrimSuffix(f, ".c++m"))
		}
	}

	var rerunInputs []string
	for _, f := range fileDeps {
		if !strings.HasSuffix(f, ".gcm") {
			rerunInputs = append(rerunInputs, f)
		}
	}
	s.task.AddInputFiles(rerunInputs...)

	return ScanDepsResult{FileDeps: fileDeps, ModuleDeps: moduleDeps, ModuleGens: moduleGens}, nil
}

func parsePhonyDeps(depFile string) []string {
	deps, err := parseDepFile(depFile, ".PHONY")
	if err != nil {
		return nil
	}
	return deps
}
