// kestreld is the command-line entry point for the job scheduler.
// Grounded on the teacher's cmd/queue/main.go: build-time version
// injection via ldflags, a top-level panic recovery, and a single
// delegation into the cli package's Cobra command tree.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/kestrel-scheduler/internal/cli"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
