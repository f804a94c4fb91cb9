package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, "erect [-flags] <command> [-flags] <args>\n")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "To get help on the build command, use erect build -help.\n")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tbuild  - build a registered blueprint's task graph\n")
	fmt.Fprintln(os.Stderr)
}
