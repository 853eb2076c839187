// Package cli implements the Cirrus command-line interface using Cobra.
// Subcommands cover the daemon (serve, worker) and a thin HTTP client for
// the control API (deploy, invoke, tasks).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cirrus",
	Short: "Cirrus — run functions on your own machine",
	Long: `Cirrus is a single-host function service.
Deploy a directory of functions as a project, invoke them over HTTP,
and track asynchronous invocations as tasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
