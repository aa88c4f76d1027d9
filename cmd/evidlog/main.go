package main

import (
	"fmt"
	"os"

	"github.com/ledgerworks/evidlog/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evidlog: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
