package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/codegrok/internal/crossref"
)

// ReferencesArgument defines cross-reference parameters.
type ReferencesArgument struct {
	Symbol string `json:"symbol" jsonschema:"symbol name to look up"`
}

// ReferencesHandler handles the find_references tool.
type ReferencesHandler struct {
	backend Backend
}

// NewReferencesHandler creates a new references handler.
func NewReferencesHandler(backend Backend) *ReferencesHandler {
	return &ReferencesHandler{backend: backend}
}

// Handle runs the tagger lookup and lists matching tags.
func (h *ReferencesHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args ReferencesArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Symbol) == "" {
		return errorResult("Symbol cannot be empty"), nil, nil
	}

	refs, err := h.backend.CrossRef(ctx, args.Symbol)
	if err != nil {
		return errorResult(fmt.Sprintf("Cross-reference failed: %s", err)), nil, nil
	}
	if len(refs) == 0 {
		return textResult(fmt.Sprintf("No references found for symbol: %s", args.Symbol)), nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d references to '%s':\n\n", len(refs), args.Symbol)
	for _, line := range refs {
		if tag, ok := crossref.ParseTag(line); ok {
			fmt.Fprintf(&sb, "- %s\n", tag)
		} else {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}
	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReferencesHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "find_references",
		Description: "Find tag entries mentioning a symbol using ctags",
	}
}

// RegisterReferencesTool registers the find_references tool with an MCP server.
func RegisterReferencesTool(server *mcp.Server, backend Backend) {
	handler := NewReferencesHandler(backend)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
