package blueprint

import (
	"errors"
	"testing"

	"github.com/distr1/erect/internal/core"
)

func TestRegisterAndLookup(t *testing.T) {
	Register("test-blueprint-basic", func(ctx *core.Context) ([]*core.Task, error) {
		return nil, nil
	})
	fn, ok := Lookup("test-blueprint-basic")
	if !ok {
		t.Fatalf("Lookup did not find registered blueprint")
	}
	if _, err := fn(nil); err != nil {
		t.Errorf("fn(nil) = %v, want nil", err)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	Register("test-blueprint-dup", func(ctx *core.Context) ([]*core.Task, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Errorf("second Register of the same name did not panic")
		}
	}()
	Register("test-blueprint-dup", func(ctx *core.Context) ([]*core.Task, error) { return nil, nil })
}

func TestRequireVersionSatisfied(t *testing.T) {
	old := Installed
	Installed = "1.4.0"
	defer func() { Installed = old }()

	if err := RequireVersion("1.3.0"); err != nil {
		t.Errorf("RequireVersion(1.3.0) with installed 1.4.0 = %v, want nil", err)
	}
	if err := RequireVersion("1.4.0"); err != nil {
		t.Errorf("RequireVersion(1.4.0) with installed 1.4.0 = %v, want nil", err)
	}
}

func TestRequireVersionUnsatisfied(t *testing.T) {
	old := Installed
	Installed = "1.2.0"
	defer func() { Installed = old }()

	err := RequireVersion("1.3.0")
	if err == nil {
		t.Fatalf("RequireVersion(1.3.0) with installed 1.2.0 = nil, want error")
	}
	var verr *VersionError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, want *VersionError", err)
	}
}
