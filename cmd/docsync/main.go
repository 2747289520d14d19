// Command docsync runs and inspects document sync replicas.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/docsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
