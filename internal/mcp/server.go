// Package mcp exposes the code search service as MCP tools.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/codegrok/internal/ingest"
	"github.com/sha1n/codegrok/internal/query"
)

// Backend is the service the tools call.
type Backend interface {
	Search(ctx context.Context, q string, limit int) ([]query.Result, error)
	Reindex(ctx context.Context) (ingest.Stats, error)
	CrossRef(ctx context.Context, symbol string) ([]string, error)
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string
	Backend Backend
}

// CreateServer creates the MCP server and registers the tools when a backend is set
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Backend != nil {
		RegisterSearchTool(s, cfg.Backend)
		RegisterReindexTool(s, cfg.Backend)
		RegisterReferencesTool(s, cfg.Backend)
	}

	return s
}

// errorResult builds a tool result that reports a failure to the client
func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
