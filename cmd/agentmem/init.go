package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

// initCmd creates a fresh memory store.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a memory store",
	Long: `Initialize a memory store under the configured root directory.

Creates the directory tree with owner-only permissions, an empty observation
log, and the genesis record of the audit chain. Running init on an existing
store verifies it instead of recreating it.

Examples:
  # Initialize the default store
  agentmem init

  # Initialize a store at an explicit location
  agentmem init --store ./memory`,
	Args: cobra.NoArgs,
	RunE: runInitCmd,
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	mgr, logger, err := openManager(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		_ = mgr.Close()
		_ = logger.Sync()
	}()

	st, err := mgr.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("store created but failed verification: %w", err)
	}

	cmd.Printf("Store ready: %s\n", cfg.Store.Root)
	cmd.Printf("  Observations: %s (%d entries)\n", cfg.Store.ObservationsPath(), st.Observations)
	cmd.Printf("  Audit chain:  %s (%d records, head %s)\n", cfg.Store.AuditPath(), st.AuditRecords, shortHash(st.LastHash))
	cmd.Printf("  Sessions:     %s\n", cfg.Store.SessionsDir())
	cmd.Printf("  Runs:         %s\n", cfg.Store.RunsDir())
	return nil
}

// shortHash abbreviates a sha256 hex digest for display.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
