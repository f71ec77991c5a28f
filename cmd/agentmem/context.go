package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var contextStableOnly bool

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().BoolVar(&contextStableOnly, "stable-only", false, "print only the cache-stable prefix block")
}

// contextCmd assembles and prints the prompt context.
var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Assemble the prompt context from the store",
	Long: `Assemble the two-block prompt context and print it to stdout.

Block one is byte-stable for a given store state (anchor and persisted
observations, newest first). Block two carries the current date and the live
session transcript. The store is verified against the audit chain before
anything is rendered.

Examples:
  # Print the full context
  agentmem context

  # Print only the stable prefix, e.g. to diff it across calls
  agentmem context --stable-only`,
	Args: cobra.NoArgs,
	RunE: runContextCmd,
}

func runContextCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	mgr, logger, err := openManager(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = mgr.Close()
		_ = logger.Sync()
	}()

	built, err := mgr.BuildContext(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to build context: %w", err)
	}

	if contextStableOnly {
		fmt.Fprint(cmd.OutOrStdout(), built.Stable)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), built.Full())
	return nil
}
