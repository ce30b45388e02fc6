// Package mcp exposes the paper corpus to AI agents over the Model
// Context Protocol.
package mcp

import (
	"context"
	"errors"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matsen/paperboy/internal/search"
	"github.com/matsen/paperboy/internal/store"
)

// Searcher answers the paper tools.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (*search.Response, error)
	Latest(ctx context.Context, limit int) ([]store.Paper, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Server wraps the MCP server with the search service behind it.
type Server struct {
	mcp    *gomcp.Server
	search Searcher
}

// NewServer creates an MCP server backed by the search service.
func NewServer(svc Searcher) (*Server, error) {
	if svc == nil {
		return nil, errors.New("search service is required")
	}

	mcpServer := gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "paperboy",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{mcp: mcpServer, search: svc}
	s.registerPaperTools()
	return s, nil
}

// Serve runs the server on stdio until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &gomcp.StdioTransport{})
}
