// Package template renders a text/template file to a generated output,
// cached the same way every other task is. It is the Go-native stand-in for
// the Python original's Jinja2 task (original_source/erect/lib/jinja2.py):
// no Jinja2-compatible templating engine appears anywhere in the example
// pack, so this component is built on the standard library rather than a
// third-party one — see DESIGN.md for that justification.
package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/cache"
	"github.com/distr1/erect/internal/core"
)

func init() {
	cache.Register("")
}

// funcs are the helpers available to every template, filling the role of
// the original's jinja2_env.filters.
var funcs = template.FuncMap{
	"hex": func(v int64) string { return fmt.Sprintf("%#x", v) },
	"sizePrefix": func(v int64) string {
		for _, unit := range []struct {
			shift uint
			suf   string
		}{{20, "M"}, {10, "k"}, {0, ""}} {
			scale := int64(1) << unit.shift
			if v%scale == 0 {
				return fmt.Sprintf("%d%s", v/scale, unit.suf)
			}
		}
		return fmt.Sprintf("%d", v)
	},
}

// Render is a task that expands a text/template source file against Data
// and writes the result, plus a trailing newline, to Target.
type Render struct {
	env    *Env
	task   *core.Task
	Source string
	Target string
	Data   map[string]interface{}
}

// Env is the minimal environment Render needs: a build directory under
// which generated files are written, mirroring gcctask.Env's role for the
// toolchain tasks.
type Env struct {
	ctx      *core.Context
	BuildDir string
}

// NewEnv returns a template Env rooted at buildDir.
func NewEnv(ctx *core.Context, buildDir string) *Env {
	return &Env{ctx: ctx, BuildDir: buildDir}
}

// NewRender returns the Render task writing env.BuildDir/generated/target
// from source, rendered against data.
func NewRender(env *Env, target, source string, data map[string]interface{}) (*Render, error) {
	id := core.NewTaskID("template", env.BuildDir, target)
	t, err := core.NewTask(env.ctx, id)
	if err != nil {
		var exists *core.TaskExistsError
		if errors.As(err, &exists) {
			if r, ok := exists.Existing.Body.(*Render); ok {
				return r, nil
			}
		}
		return nil, xerrors.Errorf("template: render %s: %w", target, err)
	}

	r := &Render{
		env:    env,
		task:   t,
		Source: source,
		Target: filepath.Join(env.BuildDir, "generated", target),
		Data:   data,
	}
	t.Body = r
	t.AddInputFiles(source)
	t.AddOutputFiles(r.Target)
	return r, nil
}

// Task returns the underlying scheduler task.
func (r *Render) Task() *core.Task { return r.task }

// InputMetadata implements core.InputMetadataProvider.
func (r *Render) InputMetadata() map[string]interface{} {
	return map[string]interface{}{
		"source": r.Source,
		"data":   r.Data,
	}
}

// Run implements core.Body.
func (r *Render) Run(_ context.Context) (interface{}, error) {
	tmpl, err := template.New(filepath.Base(r.Source)).Funcs(funcs).ParseFiles(r.Source)
	if err != nil {
		return nil, xerrors.Errorf("template: parse %s: %w", r.Source, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, filepath.Base(r.Source), r.Data); err != nil {
		return nil, xerrors.Errorf("template: render %s: %w", r.Source, err)
	}
	buf.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(r.Target), 0755); err != nil {
		return nil, xerrors.Errorf("template: render %s: %w", r.Target, err)
	}
	if err := os.WriteFile(r.Target, buf.Bytes(), 0644); err != nil {
		return nil, xerrors.Errorf("template: render %s: %w", r.Target, err)
	}

	return r.Target, nil
}
