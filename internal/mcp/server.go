// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes dontbug sessions through MCP tools that can be used
// by AI assistants and other MCP clients:
//
// Session Management (always available):
//   - debug_launch: Load a listing and run it to the first pause
//   - debug_disconnect: Terminate a session
//   - debug_list_sessions: List active sessions
//
// Inspection (always available):
//   - debug_snapshot: Frames, locals, breakpoints and output of a session
//   - debug_command: Run a DBGp command through the command bridge
//   - debug_evaluate: Evaluate an expression in a paused frame
//
// Control (full mode only):
//   - debug_breakpoints: Set, remove or list line breakpoints
//   - debug_step: Step into, over or out
//   - debug_continue: Resume execution
//   - debug_connect_ide: Hand a session to a DBGp IDE over TCP
package mcp

import (
	"context"
	"io"
	"sync"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ctagard/dontbug/internal/config"
	"github.com/ctagard/dontbug/internal/dbgp"
	"github.com/ctagard/dontbug/internal/session"
	"github.com/ctagard/dontbug/internal/version"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	sessions  *session.Manager
	config    *config.Config
	log       logr.Logger

	// IDE connections outlive the tool call that opened them
	ideCtx    context.Context
	ideCancel context.CancelFunc
	ideWG     sync.WaitGroup
}

// NewServer creates a new dontbug MCP server
func NewServer(cfg *config.Config, log logr.Logger) *Server {
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	mcpServer := server.NewMCPServer(
		"dontbug",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	sessions := session.NewManager(cfg.MaxSessions, cfg.SessionTimeout.Duration, session.Options{
		Log:            log.WithName("session"),
		Granularity:    cfg.Granularity(),
		MaxLocationLen: cfg.Dispatch.MaxLocationLen,
		IDEKey:         cfg.Protocol.IDEKey,
		Features: dbgp.FeatureDefaults{
			MaxChildren: cfg.Protocol.MaxChildren,
			MaxData:     cfg.Protocol.MaxData,
			MaxDepth:    cfg.Protocol.MaxDepth,
		},
	})

	ideCtx, ideCancel := context.WithCancel(context.Background())
	s := &Server{
		mcpServer: mcpServer,
		sessions:  sessions,
		config:    cfg,
		log:       log,
		ideCtx:    ideCtx,
		ideCancel: ideCancel,
	}

	s.registerTools()

	return s
}

// Listen serves MCP over the given streams until ctx is done or in is
// exhausted.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info("Serving MCP over stdio", "mode", s.config.Mode, "granularity", s.config.Granularity())
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// Close drops IDE connections and shuts down every session
func (s *Server) Close() {
	s.ideCancel()
	s.ideWG.Wait()
	s.sessions.Close()
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}
