package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the root command and maps its outcome to an exit code: 0 on
// a clean shutdown, 1 for configuration errors or a failed watcher.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "devwatch: %v\n", err)
		return 1
	}
	return 0
}
