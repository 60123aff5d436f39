// Package cli implements the schnabel command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schnabel",
		Short: "Audit pipeline for LLM-agent traffic",
		Long: `Schnabel audits a single turn of agent I/O — user prompt, retrieval
chunks, tool calls, tool results, and model response — and produces
findings, a policy decision, and a hash-chained evidence package.

Quick start:
  schnabel scan turn.json
  cat turns.ndjson | schnabel scan -
  schnabel rules validate my-rules.json`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		scanCmd(),
		rulesCmd(),
	)

	return cmd
}
