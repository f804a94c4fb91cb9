package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/erect/internal/cache"
	"github.com/distr1/erect/internal/core"
)

func TestRenderWritesExpandedTemplate(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "version.h.tmpl")
	if err := os.WriteFile(source, []byte("#define VERSION {{.Version}}\n#define SIZE {{hex .Size}}"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx := core.NewContext(1, cache.NewMemoryStore())
	env := NewEnv(ctx, dir)
	r, err := NewRender(env, "version.h", source, map[string]interface{}{
		"Version": "1.2.3",
		"Size":    int64(255),
	})
	if err != nil {
		t.Fatalf("NewRender: %v", err)
	}

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	target, ok := result.(string)
	if !ok {
		t.Fatalf("Run returned %T, want string", result)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", target, err)
	}
	want := "#define VERSION 1.2.3\n#define SIZE 0xff\n"
	if string(got) != want {
		t.Errorf("rendered output = %q, want %q", got, want)
	}
}

func TestSizePrefixFilter(t *testing.T) {
	fn := funcs["sizePrefix"].(func(int64) string)
	for _, test := range []struct {
		in   int64
		want string
	}{
		{1048576, "1M"},
		{2048, "2k"},
		{3, "3"},
	} {
		if got := fn(test.in); got != test.want {
			t.Errorf("sizePrefix(%d) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestNewRenderInterns(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "a.tmpl")
	os.WriteFile(source, []byte("x"), 0644)

	ctx := core.NewContext(1, cache.NewMemoryStore())
	env := NewEnv(ctx, dir)
	r1, err := NewRender(env, "a", source, nil)
	if err != nil {
		t.Fatalf("NewRender: %v", err)
	}
	r2, err := NewRender(env, "a", source, nil)
	if err != nil {
		t.Fatalf("NewRender (second): %v", err)
	}
	if r1 != r2 {
		t.Errorf("NewRender returned distinct tasks for the same target")
	}
}
