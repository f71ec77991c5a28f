// Package main implements the agentmem CLI for operating a local memory store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/internal/logging"
	"github.com/fyrsmithlabs/agentmem/pkg/agentmem"
	"github.com/fyrsmithlabs/agentmem/pkg/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	storeRoot  string
	sessionID  string
	anchorText string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentmem",
	Short: "Durable memory store for long-running agents",
	Long: `agentmem manages a local, file-backed memory store for a long-running agent:
a human-readable observation log, a hash-chained audit trail, session buffers,
and durable run state. All state lives in plain files under one directory.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/agentmem/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeRoot, "store", "", "store root directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session identifier (default: random UUID)")
	rootCmd.PersistentFlags().StringVar(&anchorText, "anchor", "", "task anchor statement for this session")
}

// loadCLIConfig loads the configuration and applies flag overrides.
func loadCLIConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storeRoot != "" {
		cfg.Store.Root = storeRoot
	}
	return cfg, nil
}

// openManager opens the store with the CLI's flags applied. The caller
// owns the returned manager and must Close it.
func openManager(ctx context.Context, cfg *config.Config) (*agentmem.Manager, *zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	mgr, err := agentmem.Open(ctx, cfg, agentmem.Options{
		SessionID: sessionID,
		Anchor:    anchorText,
		Logger:    logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return mgr, logger, nil
}
