package main

import (
	"os"

	"mem-sentinel/core/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(cli.ExitCode(err))
	}
}
