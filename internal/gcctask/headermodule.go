package gcctask

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/cache"
	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/subprocess"
)

func init() {
	cache.Register(HeaderModuleResult{})
}

// HeaderModuleResult is HeaderModule.Run's return value: the module names
// the header unit produced, discovered from the mapper connection.
type HeaderModuleResult struct {
	ModulesGenerated []string
}

// HeaderModule compiles a standalone C++20 header unit (`-x c++-user-header`),
// making it importable as a module by name. Requires a C++ module mapper.
type HeaderModule struct {
	env    *Env
	task   *core.Task
	Header string

	mu               sync.Mutex
	modulesGenerated []string
}

// NewHeaderModule returns the HeaderModule task for header within env.
func NewHeaderModule(env *Env, header string) (*HeaderModule, error) {
	id := core.NewTaskID("header_module", env.BuildDir, header)
	t, err := core.NewTask(env.ctx, id)
	if err != nil {
		var exists *core.TaskExistsError
		if errors.As(err, &exists) {
			if h, ok := exists.Existing.Body.(*HeaderModule); ok && h.env == env {
				return h, nil
			}
		}
		return nil, xerrors.Errorf("gcctask: header_module %s: %w", header, err)
	}

	h := &HeaderModule{env: env, task: t, Header: header}
	t.Body = h
	return h, nil
}

// Task returns the underlying scheduler task.
func (h *HeaderModule) Task() *core.Task { return h.task }

// InputMetadata implements core.InputMetadataProvider.
func (h *HeaderModule) InputMetadata() map[string]interface{} {
	return map[string]interface{}{
		"toolchain_prefix": h.env.ToolchainPrefix,
		"toolchain_suffix": h.env.ToolchainSuffix,
		"flags":            h.env.CXXFlags,
		"defines":          h.env.Defines,
		"include_path":     h.env.IncludePath,
	}
}

// Run implements core.Body.
func (h *HeaderModule) Run(ctx context.Context) (interface{}, error) {
	if h.env.Mapper() == nil {
		return nil, xerrors.New("gcctask: header_module requires a C++ module mapper")
	}

	flags := append([]string(nil), h.env.CXXFlags...)
	flags = append(flags, "-fmodules-ts", h.env.Mapper().GCCArg(h.task.ID.Mangled()))
	flags = appendDefinesAndIncludes(flags, h.env)

	argv := append([]string{h.env.ToolchainPrefix + "g++" + h.env.ToolchainSuffix}, flags...)
	argv = append(argv, "-x", "c++-user-header", "-c", h.Header)

	if err := subprocess.Run(ctx, argv); err != nil {
		return nil, err
	}

	h.mu.Lock()
	modules := append([]string(nil), h.modulesGenerated...)
	h.mu.Unlock()

	for _, m := range modules {
		h.task.AddOutputFiles(h.env.Mapper().GCMPath(m))
	}

	return HeaderModuleResult{ModulesGenerated: modules}, nil
}

// PostRun implements core.PostRunner, mirroring Compile.PostRun.
func (h *HeaderModule) PostRun(ctx context.Context) error {
	result, ok := h.task.Result().(HeaderModuleResult)
	if !ok {
		return nil
	}
	registry := h.env.Mapper().Registry()
	for _, m := range result.ModulesGenerated {
		if !registry.ModuleExists(m) {
			registry.ModuleProvided(m)
		}
	}
	return nil
}

// ModuleRequired implements mapper.ModuleTracker. A header unit does not
// itself import modules through this path in the original, but the
// interface costs nothing to satisfy and keeps HeaderModule attributable on
// the same terms as Compile.
func (h *HeaderModule) ModuleRequired(name string) {}

// ModuleGenerated implements mapper.ModuleTracker.
func (h *HeaderModule) ModuleGenerated(name string) {
	h.mu.Lock()
	h.modulesGenerated = append(h.modulesGenerated, name)
	h.mu.Unlock()
}
