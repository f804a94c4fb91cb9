package main

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/distr1/erect/internal/cache"
	"github.com/distr1/erect/internal/core"
)

type nopBody struct{}

func (nopBody) Run(context.Context) (interface{}, error) { return nil, nil }

func TestSelectTargetsMatchesOutputPathPrefix(t *testing.T) {
	dir := t.TempDir()
	bctx := core.NewContext(1, cache.NewMemoryStore())

	link, _ := core.NewTask(bctx, core.NewTaskID("link", "hello"))
	link.AddOutputFiles(filepath.Join(dir, "build/bin/hello"))
	link.Body = nopBody{}

	obj, _ := core.NewTask(bctx, core.NewTaskID("compile", "hello.o"))
	obj.AddOutputFiles(filepath.Join(dir, "build/objects/hello.o"))
	obj.Body = nopBody{}

	bintools, _ := core.NewTask(bctx, core.NewTaskID("link", "bintools"))
	bintools.AddOutputFiles(filepath.Join(dir, "build/bintools/x"))
	bintools.Body = nopBody{}

	for _, tt := range []struct {
		name    string
		targets []string
		want    []*core.Task
	}{
		{"bin dir selects link only", []string{filepath.Join(dir, "build/bin")}, []*core.Task{link}},
		{"exact file match", []string{filepath.Join(dir, "build/objects/hello.o")}, []*core.Task{obj}},
		{"prefix does not match sibling dir", []string{filepath.Join(dir, "build/bin")}, []*core.Task{link}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectTargets(bctx, tt.targets)
			if err != nil {
				t.Fatalf("selectTargets: %v", err)
			}
			sortTasksByID(got)
			sortTasksByID(tt.want)
			if len(got) != len(tt.want) {
				t.Fatalf("selectTargets(%v) = %v, want %v", tt.targets, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("selectTargets(%v)[%d] = %v, want %v", tt.targets, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSelectTargetsErrorsOnUnmatchedTarget(t *testing.T) {
	bctx := core.NewContext(1, cache.NewMemoryStore())
	link, _ := core.NewTask(bctx, core.NewTaskID("link", "hello"))
	link.AddOutputFiles(filepath.Join(t.TempDir(), "build/bin/hello"))
	link.Body = nopBody{}

	if _, err := selectTargets(bctx, []string{"no/such/prefix"}); err == nil {
		t.Errorf("selectTargets with an unmatched target = nil error, want an error")
	}
}

func sortTasksByID(tasks []*core.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID.Display() < tasks[j].ID.Display()
	})
}
