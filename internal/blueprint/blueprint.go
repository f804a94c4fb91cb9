// Package blueprint is the Go-native replacement for the original's
// importlib-based dynamic loading of user build scripts: since Go cannot
// load arbitrary source at runtime, a blueprint here is simply a Func
// (func(*core.Context) ([]*core.Task, error)) that a cmd/erect binary (or a
// third-party consumer importing this module) registers by name and the CLI
// dispatches to, instead of pointing at an arbitrary .py file.
package blueprint

import (
	"fmt"
	"sync"

	"golang.org/x/xerrors"

	"github.com/distr1/erect/internal/core"
)

// Func builds the task graph for one blueprint: it constructs whatever
// tasks it needs against ctx and returns the root tasks the caller should
// pass to ctx.Run.
type Func func(ctx *core.Context) ([]*core.Task, error)

var (
	mu         sync.Mutex
	blueprints = map[string]Func{}
)

// Register makes fn available under name. Typically called from a
// blueprint package's init.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := blueprints[name]; exists {
		panic(fmt.Sprintf("BUG: blueprint %q registered twice", name))
	}
	blueprints[name] = fn
}

// Lookup returns the registered blueprint Func for name.
func Lookup(name string) (Func, bool) {
	mu.Lock()
	defer mu.Unlock()
	fn, ok := blueprints[name]
	return fn, ok
}

// Names returns every currently registered blueprint name.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(blueprints))
	for n := range blueprints {
		names = append(names, n)
	}
	return names
}

// VersionError is returned by RequireVersion when the running erect is
// older than what a blueprint declares it needs.
type VersionError struct {
	Required  string
	Installed string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("required erect version %s is greater than installed version %s", e.Required, e.Installed)
}

// Installed is the running erect's own version, set by cmd/erect's build
// metadata (or left as "0.0.0-dev" for a source checkout). A package
// variable rather than a constant so cmd/erect can stamp it via ldflags.
var Installed = "0.0.0-dev"

// RequireVersion fails with a *VersionError if required is a newer version
// than Installed, per semantic-version precedence. Grounded on
// original_source/erect/util/version.py's require_version.
func RequireVersion(required string) error {
	req, err := parseVersion(required)
	if err != nil {
		return xerrors.Errorf("blueprint: require_version: %w", err)
	}
	have, err := parseVersion(Installed)
	if err != nil {
		return xerrors.Errorf("blueprint: require_version: %w", err)
	}
	if compareVersions(req, have) > 0 {
		return &VersionError{Required: required, Installed: Installed}
	}
	return nil
}

type version struct {
	major, minor, patch int
}

func parseVersion(s string) (version, error) {
	var v version
	n, err := fmt.Sscanf(s, "%d.%d.%d", &v.major, &v.minor, &v.patch)
	if err != nil || n != 3 {
		return version{}, xerrors.Errorf("invalid version %q: expected MAJOR.MINOR.PATCH", s)
	}
	return v, nil
}

func compareVersions(a, b version) int {
	switch {
	case a.major != b.major:
		return a.major - b.major
	case a.minor != b.minor:
		return a.minor - b.minor
	default:
		return a.patch - b.patch
	}
}
