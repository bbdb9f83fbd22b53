package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/velo-dev/velo/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "velo",
		Short: "The velo development server and toolchain",
		Long: `velo serves a file-system routed app with live reload during
development and proves that private server modules never leak into
client-reachable code.

Commands:

  dev      start the development server
  check    run the import boundary check over an exported module graph
  version  print version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		devCmd(),
		checkCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if ve, ok := err.(*errors.Error); ok {
			fmt.Fprintln(os.Stderr, ve.Format())
		} else {
			fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		}
		os.Exit(1)
	}
}
