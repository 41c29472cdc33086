// Command ansetl consolidates the regulator's quarterly expense ledgers and
// serves the result.
package main

import (
	"fmt"
	"os"

	"github.com/assad-lz/ansetl/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ansetl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
