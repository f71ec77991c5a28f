package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reflectForce bool

func init() {
	rootCmd.AddCommand(reflectCmd)
	reflectCmd.Flags().BoolVar(&reflectForce, "force", false, "consolidate even below the token threshold")
}

// reflectCmd consolidates the observation log.
var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Consolidate the observation log",
	Long: `Consolidate the observation log through the configured model: merge
duplicates, drop stale routine entries, and keep every critical observation.

Without --force this is a no-op while the log is below the reflector's token
threshold. The rewrite is atomic and recorded in the audit chain. Requires an
LLM provider in the configuration.

Examples:
  # Consolidate if the log has grown past the threshold
  agentmem reflect

  # Consolidate regardless of size
  agentmem reflect --force`,
	Args: cobra.NoArgs,
	RunE: runReflectCmd,
}

func runReflectCmd(cmd *cobra.Command, args []string) error {
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

	out, err := mgr.Reflect(cmd.Context(), reflectForce)
	if err != nil {
		return fmt.Errorf("reflection failed: %w", err)
	}

	if !out.Applied {
		if out.Skipped > 0 {
			cmd.Printf("Consolidation skipped: %d unparseable response block(s), log unchanged\n", out.Skipped)
			return nil
		}
		cmd.Println("Nothing to consolidate")
		return nil
	}

	cmd.Printf("Consolidated: %d -> %d tokens\n", out.TokensBefore, out.TokensAfter)
	return nil
}
