// Package gcctask implements the GCC/G++ toolchain tasks: compiling a
// translation unit (with optional C++20 module support via internal/mapper),
// producing a header unit, a standalone dependency scan, a module existence
// preflight, and linking an executable. Grounded on
// original_source/erect/lib/gcc/__init__.py (module-aware Compile/Link) and
// original_source/erect/lib/gcc.py (the ScanDeps/ModuleCheck split).
package gcctask

import (
	"path/filepath"
	"strings"

	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/mapper"
)

// Env holds everything about a toolchain invocation that many tasks share:
// the toolchain's name fragments, flags, and (if C++20 modules are in use)
// the module mapper every Compile/HeaderModule task in this Env talks to.
type Env struct {
	ctx      *core.Context
	BuildDir string

	ToolchainPrefix string
	ToolchainSuffix string

	CFlags      []string
	CXXFlags    []string
	LDFlags     []string
	Defines     []string
	IncludePath []string

	mapper *mapper.Mapper
}

// NewEnv returns an Env rooted at buildDir. When cxxModules is true, a
// module mapper is created and registered with ctx.StartAsync so the
// scheduler waits for its listening socket to be bound before running any
// task that might reference it.
func NewEnv(ctx *core.Context, buildDir string, cxxModules bool) *Env {
	e := &Env{ctx: ctx, BuildDir: buildDir}
	if cxxModules {
		e.mapper = mapper.New(ctx, filepath.Join(buildDir, "cmi"))
		ctx.StartAsync(e.mapper.Start)
	}
	return e
}

// Context returns the Env's owning scheduler.
func (e *Env) Context() *core.Context { return e.ctx }

// Mapper returns the Env's module mapper, or nil if it was built without
// C++20 module support.
func (e *Env) Mapper() *mapper.Mapper { return e.mapper }

func objectFileFor(buildDir, sourceFile string) string {
	rel := strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile)) + ".o"
	return filepath.Join(buildDir, "objects", rel)
}

func depFileFor(objectFile string) string {
	return strings.TrimSuffix(objectFile, filepath.Ext(objectFile)) + ".d"
}

func isCSource(sourceFile string) bool {
	return filepath.Ext(sourceFile) == ".c"
}

func flagsFor(env *Env, sourceFile string) []string {
	if isCSource(sourceFile) {
		out := make([]string, len(env.CFlags))
		copy(out, env.CFlags)
		return out
	}
	out := make([]string, len(env.CXXFlags))
	copy(out, env.CXXFlags)
	return out
}

func compilerFor(env *Env, sourceFile string) string {
	if isCSource(sourceFile) {
		return env.ToolchainPrefix + "gcc" + env.ToolchainSuffix
	}
	return env.ToolchainPrefix + "g++" + env.ToolchainSuffix
}

func appendDefinesAndIncludes(flags []string, env *Env) []string {
	for _, d := range env.Defines {
		flags = append(flags, "-D", d)
	}
	for _, p := range env.IncludePath {
		flags = append(flags, "-I", p)
	}
	return flags
}
