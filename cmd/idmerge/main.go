// Command idmerge resolves messaging identifiers to recipients in a local
// SQLite contact store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/idmerge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// An ExitError has already been reported by its command.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
