// ABOUTME: MCP tool definitions and registration for the recall server
// ABOUTME: Exposes screen-history search and catalog stats to MCP clients
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/recall/internal/retrieval"
	"github.com/harper/recall/internal/store"
	"github.com/harper/recall/internal/synthesis"
)

// RegisterTools registers all MCP tools with the server.
func RegisterTools(server *mcpserver.MCPServer, s *store.Store, engine *retrieval.Engine, syn *synthesis.Synthesizer, vlmModel string) *Handlers {
	handlers := &Handlers{
		store:    s,
		engine:   engine,
		syn:      syn,
		vlmModel: vlmModel,
	}

	// 1. search_screen_history - similarity search + grounded answer
	server.AddTool(mcp.Tool{
		Name:        "search_screen_history",
		Description: "Search the recorded screen history by natural-language query. Returns a grounded answer plus the matching frames with timestamps and relevance scores.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for (e.g. 'the error I saw in the terminal this morning')",
				},
				"from": map[string]interface{}{
					"type":        "string",
					"description": "Optional RFC3339 lower time bound",
				},
				"to": map[string]interface{}{
					"type":        "string",
					"description": "Optional RFC3339 upper time bound",
				},
				"k": map[string]interface{}{
					"type":        "number",
					"description": "Number of frames to return (default 5)",
				},
			},
			Required: []string{"query"},
		},
	}, handlers.SearchScreenHistory)

	// 2. get_stats - catalog statistics
	server.AddTool(mcp.Tool{
		Name:        "get_stats",
		Description: "Get screen recording statistics: total frames, disk usage, and the recorded date range.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, handlers.GetStats)

	return handlers
}
