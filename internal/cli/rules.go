package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/rulepack"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate rule packs",
	}
	cmd.AddCommand(rulesValidateCmd(), rulesListCmd())
	return cmd
}

func rulesValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pack.json>",
		Short: "Validate a rule pack file",
		Long: `Parse and compile a rule pack, reporting invalid rules.

Exit status is 1 when the pack is structurally broken or any rule was
skipped during validation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) //nolint:gosec // G304: CLI argument
			if err != nil {
				return fmt.Errorf("reading rule pack: %w", err)
			}

			logger := zerolog.New(cmd.ErrOrStderr())
			pack, err := rulepack.ParsePack(data, logger)
			if err != nil {
				return err
			}

			cmd.Printf("version: %s\n", pack.Version)
			cmd.Printf("rules:   %d valid, %d skipped\n", pack.Len(), pack.Skipped)
			if pack.Skipped > 0 {
				cmd.SilenceErrors = true
				return fmt.Errorf("%d invalid rules", pack.Skipped)
			}
			return nil
		},
	}
	return cmd
}

func rulesListCmd() *cobra.Command {
	var packFile string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the rules in a pack (default: embedded pack)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := rulepack.NewLoader(rulepack.LoaderOptions{
				Path:   packFile,
				Logger: zerolog.New(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			defer loader.Close() //nolint:errcheck // no watcher running

			pack := loader.Current()
			cmd.Printf("version: %s (%d rules)\n", pack.Version, pack.Len())
			for _, r := range pack.Rules() {
				cmd.Printf("  %-55s %-26s %s\n", r.ID, r.Category, r.Risk)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&packFile, "file", "f", "", "rule pack path (default: embedded pack)")
	return cmd
}
