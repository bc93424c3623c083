// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes the hook engine through MCP tools that replay recorded
// Lua hook traces against scripted debugger sessions:
//
// Sessions:
//   - hook_replay: Replay a trace with breakpoints and scripted stop actions
//   - hook_list_sessions: List replay sessions
//   - hook_end: End a replay session
//
// Inspection:
//   - hook_status: Run state, hook level, counters and stops of a session
//   - hook_output: Debugger output captured by a session
//   - hook_list_configs: Lua configurations in a launch.json
//   - hook_version: Version and hook protocol compatibility
//
// Control:
//   - hook_select_level: Force a hook level until the next re-selection
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ctagard/luahook/internal/config"
	"github.com/ctagard/luahook/internal/logging"
	"github.com/ctagard/luahook/internal/session"
	"github.com/ctagard/luahook/internal/version"
)

// Server wraps the MCP server with the replay tools
type Server struct {
	mcpServer      *server.MCPServer
	sessionManager *session.Manager
	config         *config.Config
	logger         *zap.Logger
}

// NewServer creates a new luahook MCP server
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		"luahook",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	logger = logging.OrNop(logger)
	s := &Server{
		mcpServer:      mcpServer,
		sessionManager: session.NewManager(cfg, logger),
		config:         cfg,
		logger:         logger,
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close shuts down the server
func (s *Server) Close() {
	s.sessionManager.Close()
}

// GetSessionManager returns the session manager
func (s *Server) GetSessionManager() *session.Manager {
	return s.sessionManager
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}
