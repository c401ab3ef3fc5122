// Package mcpbridge exposes the memory-bridge subsystem's read and write
// paths as MCP (Model Context Protocol) tools over stdio JSON-RPC: search,
// readFile, sync, and status. It wraps internal/retrieval.Pipeline for the
// read path and internal/bridge.Bridge for the write path, so any host that
// speaks MCP (not just the in-process agent host) can drive a session.
package mcpbridge

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/memctl/internal/bridge"
	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/retrieval"
)

// serverVersion is reported to MCP clients during initialize.
const serverVersion = "0.1.0"

// Server holds the tool handlers' dependencies for one (agentId, endpoint)
// bridge/pipeline pair.
type Server struct {
	pipeline *retrieval.Pipeline
	br       *bridge.Bridge
	agentID  string
	endpoint string
}

// NewServer builds an mcpbridge Server bound to one already-configured
// pipeline and bridge. Both must share the same agent/endpoint config.
func NewServer(cfg config.Config, pipeline *retrieval.Pipeline, br *bridge.Bridge) *Server {
	return &Server{pipeline: pipeline, br: br, agentID: cfg.AgentID, endpoint: cfg.Endpoint}
}

// Run starts the MCP stdio server. It blocks until stdin is closed; it runs
// under context.Background() and takes no context that could cancel it.
func Run(cfg config.Config, pipeline *retrieval.Pipeline, br *bridge.Bridge) error {
	s := NewServer(cfg, pipeline, br)

	mcpServer := server.NewMCPServer(
		"memctl",
		serverVersion,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: searchTool(), Handler: s.handleSearch},
		server.ServerTool{Tool: readFileTool(), Handler: s.handleReadFile},
		server.ServerTool{Tool: syncTool(), Handler: s.handleSync},
		server.ServerTool{Tool: statusTool(), Handler: s.handleStatus},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcpbridge] ", log.LstdFlags))

	return stdio.Listen(context.Background(), os.Stdin, os.Stdout)
}
