package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReindexArgument takes no parameters.
type ReindexArgument struct{}

// ReindexHandler handles the reindex tool.
type ReindexHandler struct {
	backend Backend
}

// NewReindexHandler creates a new reindex handler.
func NewReindexHandler(backend Backend) *ReindexHandler {
	return &ReindexHandler{backend: backend}
}

// Handle rebuilds the index and reports ingestion statistics.
func (h *ReindexHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, _ ReindexArgument) (*mcp.CallToolResult, any, error) {
	stats, err := h.backend.Reindex(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Indexing failed: %s", err)), nil, nil
	}

	return textResult(fmt.Sprintf(
		"Indexed %d files (generation %d) in %s. Skipped: %d unsupported, %d excluded, %d unreadable.",
		stats.Indexed, stats.Generation, stats.Duration.Round(time.Millisecond),
		stats.Unsupported, stats.Excluded, stats.Unreadable)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReindexHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "reindex",
		Description: "Rebuild the search index from the source tree",
	}
}

// RegisterReindexTool registers the reindex tool with an MCP server.
func RegisterReindexTool(server *mcp.Server, backend Backend) {
	handler := NewReindexHandler(backend)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
