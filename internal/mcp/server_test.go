package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/pkg/agentmem"
	"github.com/fyrsmithlabs/agentmem/pkg/clock"
	"github.com/fyrsmithlabs/agentmem/pkg/config"
	"github.com/fyrsmithlabs/agentmem/pkg/tokenizer"
)

func openTestManager(t *testing.T) *agentmem.Manager {
	t.Helper()

	cfg := config.Default()
	cfg.Store.Root = t.TempDir()

	mgr, err := agentmem.Open(context.Background(), cfg, agentmem.Options{
		SessionID: "mcp-test",
		Clock:     clock.Fixed(time.Date(2026, 2, 20, 14, 32, 0, 0, time.UTC)),
		Counter:   tokenizer.Heuristic(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestNewServer(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		mgr := openTestManager(t)

		cfg := &Config{
			Name:    "agentmem-test",
			Version: "test",
			Logger:  zap.NewNop(),
		}
		srv, err := NewServer(cfg, mgr)
		require.NoError(t, err)
		require.NotNil(t, srv)
		assert.NotNil(t, srv.mcp)
		assert.NotNil(t, srv.metrics)
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		mgr := openTestManager(t)

		srv, err := NewServer(nil, mgr)
		require.NoError(t, err)
		require.NotNil(t, srv)
		assert.NotNil(t, srv.logger)
	})

	t.Run("nil manager fails", func(t *testing.T) {
		srv, err := NewServer(DefaultConfig(), nil)
		require.Error(t, err)
		assert.Nil(t, srv)
		assert.Contains(t, err.Error(), "manager is required")
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "agentmem", cfg.Name)
	assert.NotEmpty(t, cfg.Version)
	assert.Nil(t, cfg.Logger)
}

func TestServerClose(t *testing.T) {
	mgr := openTestManager(t)

	srv, err := NewServer(nil, mgr)
	require.NoError(t, err)

	require.NoError(t, srv.Close())

	// The manager is released with the server.
	_, err = mgr.Status(context.Background())
	assert.ErrorIs(t, err, agentmem.ErrClosed)

	// Close is idempotent through the manager.
	assert.NoError(t, srv.Close())
}
