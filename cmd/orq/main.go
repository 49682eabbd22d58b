// Command orq compiles and runs object queries over a CUE mapping.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/orq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
