package gcctask

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/core"
)

// ModuleCheck is a preflight task that fails the build early, with a clear
// error, if any translation unit in sourceFiles imports a module that no
// translation unit in the same set produces — a misconfigured module
// partition that would otherwise surface as a MODULE-IMPORT that never
// completes and, in the end, the scheduler's stall error, which names no
// module. Grounded on original_source/erect/lib/gcc.py's
// ModuleCheck.
type ModuleCheck struct {
	env         *Env
	task        *core.Task
	Target      string
	scanTasks   []*ScanDeps
}

// NewModuleCheck returns the ModuleCheck task for target, scanning every
// file in sourceFiles.
func NewModuleCheck(env *Env, target string, sourceFiles []string) (*ModuleCheck, error) {
	id := core.NewTaskID("module_check", env.BuildDir, target)
	t, err := core.NewTask(env.ctx, id)
	if err != nil {
		return nil, xerrors.Errorf("gcctask: module_check %s: %w", target, err)
	}

	m := &ModuleCheck{env: env, task: t, Target: target}
	t.Body = m

	for _, src := range sourceFiles {
		s, err := NewScanDeps(env, src)
		if err != nil {
			return nil, err
		}
		m.scanTasks = append(m.scanTasks, s)
		t.AddDependencies(s.Task())
	}
	return m, nil
}

// Task returns the underlying scheduler task.
func (m *ModuleCheck) Task() *core.Task { return m.task }

// Run implements core.Body.
func (m *ModuleCheck) Run(ctx context.Context) (interface{}, error) {
	generated := make(map[string]bool)
	for _, s := range m.scanTasks {
		result, ok := s.Task().Result().(ScanDepsResult)
		if !ok {
			continue
		}
		for _, g := range result.ModuleGens {
			generated[g] = true
		}
	}

	for _, s := range m.scanTasks {
		result, ok := s.Task().Result().(ScanDepsResult)
		if !ok {
			continue
		}
		for _, dep := range result.ModuleDeps {
			if !generated[dep] {
				return nil, xerrors.Errorf("gcctask: module %s required by %s does not exist", dep, s.SourceFile)
			}
		}
	}
	return nil, nil
}
