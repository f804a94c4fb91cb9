// Command erect drives a registered blueprint's task graph to completion:
// dependency-ordered, concurrent, skipping work whose cached fingerprints
// still check out. The blueprint itself — which tasks exist and how they
// depend on each other — is Go code a consuming repository registers with
// internal/blueprint from its own blueprint.go; this binary only knows how
// to look one up by name and drive it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/distr1/erect/internal/atexit"
	"github.com/distr1/erect/internal/runctx"
)

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func funcmain() error {
	flag.Parse()

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	if verb == "help" {
		usage()
		return nil
	}

	verbs := map[string]func(context.Context, []string) error{
		"build": cmdBuild,
	}
	v, ok := verbs[verb]
	if !ok {
		usage()
		os.Exit(2)
	}

	ctx, canc := runctx.Interruptible()
	defer canc()

	runErr := v(ctx, args)
	exitErr := atexit.Run()
	if runErr != nil {
		return fmt.Errorf("%s: %w", verb, runErr)
	}
	return exitErr
}
