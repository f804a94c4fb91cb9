// Package subprocess runs external commands the way every task body in
// internal/gcctask needs to: print the command line
// before running it, fail on a non-zero exit, and terminate the child if
// the calling context is cancelled. Grounded on
// original_source/erect/util/subprocess.py.
package subprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// Run executes argv[0] with the remaining elements as arguments, streaming
// its stdout/stderr to this process's own, and returns an error if it exits
// non-zero or fails to start. The command line is echoed to stdout first,
// mirroring the Python original's shlex.join print.
func Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return xerrors.New("subprocess: empty argv")
	}

	fmt.Println(quoteJoin(argv))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("subprocess: %s: %w", argv[0], err)
	}
	return nil
}

// RunSilent is Run with stdout discarded, used for dependency-scan
// invocations (internal/gcctask.ScanDeps) whose only useful output is the
// .d file GCC writes to disk.
func RunSilent(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return xerrors.New("subprocess: empty argv")
	}

	fmt.Println(quoteJoin(argv))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("subprocess: %s: %w", argv[0], err)
	}
	return nil
}

// quoteJoin renders argv the way a shell would need it quoted, for the
// printed command line only — the command itself is always executed
// directly via exec, never through a shell.
func quoteJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$`") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
