package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "livelink",
		Short: "Real-time scene sync server",
		Long: `LiveLink streams live scene state to connected editors and agents.

It serves a WebSocket endpoint carrying the command protocol and
threshold-based delta sync, plus an HTTP endpoint exposing the same
operations over JSON-RPC (Model Context Protocol).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
