package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/codegrok/internal/domain"
	"github.com/sha1n/codegrok/internal/index"
	"github.com/sha1n/codegrok/internal/query"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query string `json:"query" jsonschema:"search query; terms are ANDed and may use OR, NOT, -term, quoted phrases, wildcards and language: or path: filters"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchHandler handles the search_code tool.
type SearchHandler struct {
	backend Backend
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(backend Backend) *SearchHandler {
	return &SearchHandler{backend: backend}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, _ *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	results, err := h.backend.Search(ctx, args.Query, args.Limit)
	switch {
	case errors.Is(err, query.ErrQuerySyntax):
		return errorResult(fmt.Sprintf("Invalid query: %s", err)), nil, nil
	case errors.Is(err, index.ErrIndexNotFound):
		return errorResult("The index has not been built yet. Run the reindex tool first."), nil, nil
	case err != nil:
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return formatResults(results, args.Query), nil, nil
}

// formatResults renders search results as markdown
func formatResults(results []query.Result, queryStr string) *mcp.CallToolResult {
	if len(results) == 0 {
		return textResult(fmt.Sprintf("No results found for query: %s", queryStr))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(results), queryStr)
	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s\n", i+1, r.Path)
		fmt.Fprintf(&sb, "**Language**: %s\n\n", r.Language)
		if r.Snippet != "" {
			sb.WriteString("```\n")
			sb.WriteString(r.Snippet)
			sb.WriteString("\n```\n")
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed source tree using full-text search. Languages: " + strings.Join(domain.Languages(), ", "),
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, backend Backend) {
	handler := NewSearchHandler(backend)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
