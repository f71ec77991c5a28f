package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentmem/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpCmd serves the store over the Model Context Protocol on stdio.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the store as MCP tools on stdio",
	Long: `Serve the memory store over the Model Context Protocol on stdio.

Exposes memory_observe, context_build, audit_verify, and run_status to any
MCP client. The protocol uses stdout; diagnostics go to stderr.

Examples:
  # Serve the default store
  agentmem mcp

  # Serve an explicit store with a fixed session id
  agentmem mcp --store ./memory --session nightly-batch`,
	Args: cobra.NoArgs,
	RunE: runMCPCmd,
}

func runMCPCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr, logger, err := openManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "agentmem",
		Version: version,
		Logger:  logger,
	}, mgr)
	if err != nil {
		_ = mgr.Close()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() {
		_ = srv.Close()
	}()

	// The MCP protocol owns stdout; keep startup chatter on stderr.
	fmt.Fprintf(os.Stderr, "agentmem MCP server started (store: %s)\n", cfg.Store.Root)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	logger.Info("MCP server shutdown complete")
	return nil
}
