// Package cli implements the forge command-line interface using Cobra.
// `forge serve` runs the coordinator; the remaining subcommands talk to
// a running coordinator over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge — autonomic worker-fleet coordinator",
	Long: `forge schedules prioritized tasks across a worker fleet, isolates
failing workers behind per-worker circuit breakers, recovers unhealthy
workers, and tunes its own scheduling parameters from observed
performance.`,
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
