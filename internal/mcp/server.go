package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/packsearch/internal/app"
)

const (
	// ServerName is the MCP server name
	ServerName = "packsearch"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes an App as MCP tools
type Server struct {
	mcp *server.MCPServer
	app *app.App
}

// NewServer creates a new MCP server instance around a wired App
func NewServer(a *app.App) *Server {
	s := &Server{
		mcp: server.NewMCPServer(ServerName, ServerVersion),
		app: a,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchImagesTool(), s.handleSearchImages)
	s.mcp.AddTool(buildCacheTool(), s.handleBuildCache)
	s.mcp.AddTool(listPacksTool(), s.handleListPacks)
	s.mcp.AddTool(enablePackTool(), s.handleEnablePack)
	s.mcp.AddTool(disablePackTool(), s.handleDisablePack)
	s.mcp.AddTool(setModeTool(), s.handleSetMode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
