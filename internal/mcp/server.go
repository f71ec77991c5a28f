package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/pkg/agentmem"
)

// Config holds MCP server configuration.
type Config struct {
	// Name is the server name reported to clients.
	Name string
	// Version is the server version reported to clients.
	Version string
	// Logger for server operations. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentmem",
		Version: "0.1.0",
	}
}

// Server is an MCP server that exposes one memory manager as stdio tools.
type Server struct {
	mcp     *mcp.Server
	manager *agentmem.Manager
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a new MCP server bound to a manager.
func NewServer(cfg *Config, manager *agentmem.Manager) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if manager == nil {
		return nil, fmt.Errorf("manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		manager: manager,
		metrics: NewMetrics(logger),
		logger:  logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the stdio transport and blocks until the
// client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.String("session_id", s.manager.SessionID()))

	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close releases the underlying manager.
func (s *Server) Close() error {
	if err := s.manager.Close(); err != nil {
		return fmt.Errorf("failed to close manager: %w", err)
	}
	return nil
}
