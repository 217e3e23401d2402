package main

import (
	"fmt"
	"os"

	"github.com/roach88/tape/internal/cli"
)

func main() {
	// Commands silence cobra's own error printing, so report here and
	// exit with the code the command chose.
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tapharness:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
