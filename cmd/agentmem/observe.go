package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentmem/pkg/memory"
)

var (
	observeExternal bool
	observeOrigin   string
)

func init() {
	rootCmd.AddCommand(observeCmd)
	observeCmd.Flags().BoolVar(&observeExternal, "external", false, "treat the text as untrusted external content")
	observeCmd.Flags().StringVar(&observeOrigin, "origin", "", "where external content came from (URL, file path)")
}

// observeCmd records one observation.
var observeCmd = &cobra.Command{
	Use:   "observe [text]",
	Short: "Record an observation in the memory store",
	Long: `Record an observation in the memory store.

The text may start with a priority marker (🔴 🟡 🟢); without one it is
recorded as 🟡. Text is sanitized before it is persisted and the append is
recorded in the audit chain.

Examples:
  # Record a pattern observation
  agentmem observe "retry loop fixed the flaky upload"

  # Record a critical observation
  agentmem observe "🔴 OAuth token expired mid-run"

  # Record tool output as external content, from stdin
  curl -s https://api.example.com/status | agentmem observe --external --origin https://api.example.com/status -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runObserveCmd,
}

func runObserveCmd(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		text = string(content)
	} else {
		text = args[0]
	}

	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to observe")
	}

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

	var obs memory.Observation
	if observeExternal {
		obs, err = mgr.ObserveExternal(cmd.Context(), text, observeOrigin)
	} else {
		obs, err = mgr.Observe(cmd.Context(), text)
	}
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}

	cmd.Printf("%s %s\n", obs.Priority, obs.Body)
	return nil
}
