package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentmem/pkg/runstate"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusCmd summarizes the store.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the memory store",
	Long: `Load and verify the store, then print a summary: observation and audit
counts, token footprint of the log, and the state of every known run.

Examples:
  agentmem status`,
	Args: cobra.NoArgs,
	RunE: runStatusCmd,
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
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

	st, err := mgr.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	cmd.Printf("Store:        %s\n", cfg.Store.Root)
	cmd.Printf("Observations: %d (%d malformed lines, ~%d tokens)\n", st.Observations, st.Malformed, st.LogTokens)
	cmd.Printf("Audit chain:  %d records, head %s\n", st.AuditRecords, shortHash(st.LastHash))
	cmd.Printf("Session:      %s (%d chars buffered)\n", st.SessionID, st.SessionChars)
	if st.AnchorHash != "" {
		cmd.Printf("Anchor:       %s\n", shortHash(st.AnchorHash))
	}

	runs, err := mgr.Runs()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) > 0 {
		cmd.Printf("Runs:\n")
		for _, run := range runs {
			cmd.Printf("  %-20s %-12s %d/%d steps\n",
				run.RunID, run.Status(), completedCount(run), len(run.Steps))
		}
	}
	return nil
}

func completedCount(state runstate.State) int {
	return len(state.CompletedSteps())
}
