// Package mcpserver exposes the retriever as a single MCP tool for a
// calling agent, matching the teacher's tool-registration idiom but
// trimmed to the one operation this engine actually defines.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vecindex/engine/internal/retrieve"
)

// Server implements the MCP server exposing search_code.
type Server struct {
	mcpServer *server.MCPServer
	retriever *retrieve.Retriever
	artifact  string
	tags      []retrieve.TagRef
	logger    hclog.Logger
}

// Config configures a Server.
type Config struct {
	Retriever  *retrieve.Retriever
	ArtifactID string
	Tags       []retrieve.TagRef
}

// New creates the MCP server, registering search_code as its only tool.
func New(cfg Config) *Server {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "vecindex-mcp",
		Level:  hclog.Warn,
		Output: os.Stderr,
	})

	s := &Server{
		retriever: cfg.Retriever,
		artifact:  cfg.ArtifactID,
		tags:      cfg.Tags,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"vecindex",
		"0.1.0",
		server.WithLogging(),
	)

	mcpServer.AddTool(mcp.NewTool("search_code",
		mcp.WithDescription("Search code using semantic similarity over the vector index"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		mcp.WithString("directory", mcp.Description("Restrict results to files under this directory prefix")),
	), s.handleSearchCode)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) handleSearchCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	limit := req.GetInt("limit", 10)
	directory := req.GetString("directory", "")

	s.logger.Debug("search_code", "query", query, "limit", limit, "directory", directory)

	chunks, err := s.retriever.Retrieve(ctx, query, limit, s.tags, s.artifact, directory)
	if err != nil {
		s.logger.Error("search_code failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	var formatted []map[string]any
	for _, c := range chunks {
		formatted = append(formatted, map[string]any{
			"digest":     c.Digest,
			"file":       c.FilePath,
			"start_line": c.StartLine,
			"end_line":   c.EndLine,
			"content":    c.Content,
			"distance":   c.Distance,
		})
	}

	jsonResult, err := json.MarshalIndent(formatted, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// ServeStdio starts the MCP server on stdio, blocking until it exits.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
