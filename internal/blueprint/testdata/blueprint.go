// Package testdata is a demonstration blueprint: the shape a user
// repository's own blueprint.go takes when it imports internal/core,
// internal/template and internal/blueprint to describe its build. Kept
// under testdata/ so the go tool never treats it as part of this module's
// own package graph, the same way a real consumer's blueprint.go would
// live in a separate repository entirely.
package testdata

import (
	"os"
	"path/filepath"

	"github.com/distr1/erect/internal/blueprint"
	"github.com/distr1/erect/internal/core"
	"github.com/distr1/erect/internal/template"
)

func init() {
	blueprint.Register("demo", Blueprint)
}

// Blueprint builds a two-task graph: a greeting rendered from one template,
// and a banner rendered from another that depends on the greeting having
// run first, enough to exercise dependency ordering, the sizePrefix/hex
// template filters, and fingerprint caching end to end.
func Blueprint(ctx *core.Context) ([]*core.Task, error) {
	buildDir := filepath.Join(os.TempDir(), "erect-demo-blueprint")
	srcDir := filepath.Join(buildDir, "templates")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		return nil, err
	}

	greetingTmpl := filepath.Join(srcDir, "greeting.tmpl")
	if err := os.WriteFile(greetingTmpl, []byte("hello, {{.Name}}! build id {{hex .ID}}"), 0644); err != nil {
		return nil, err
	}
	bannerTmpl := filepath.Join(srcDir, "banner.tmpl")
	if err := os.WriteFile(bannerTmpl, []byte("=== {{.Size | sizePrefix}} build ==="), 0644); err != nil {
		return nil, err
	}

	env := template.NewEnv(ctx, buildDir)

	greeting, err := template.NewRender(env, "greeting.txt", greetingTmpl, map[string]interface{}{
		"Name": "erect",
		"ID":   int64(42),
	})
	if err != nil {
		return nil, err
	}

	banner, err := template.NewRender(env, "banner.txt", bannerTmpl, map[string]interface{}{
		"Size": int64(1 << 20),
	})
	if err != nil {
		return nil, err
	}
	banner.Task().AddDependencies(greeting.Task())

	return []*core.Task{banner.Task()}, nil
}
