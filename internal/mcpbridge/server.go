// Package mcpbridge implements a Model Context Protocol (MCP) server that
// exposes the expose agent's operations as MCP tools.
//
// The server speaks JSON-RPC 2.0 over stdio, which is the standard transport
// for Claude Desktop and other local MCP hosts.
package mcpbridge

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const serverName = "expose-mcp"

// Server is a stdio MCP server.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server with every tool in tools registered.
// logger must not write to stdout; that would corrupt the protocol.
func NewServer(tools *ToolRegistry, version string, logger *zap.Logger) *Server {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	tools.Register(s)
	return &Server{mcp: s, logger: logger}
}

// Serve reads JSON-RPC messages from r and writes responses to w until r is
// exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	return stdio.Listen(ctx, r, w)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}
