package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matsen/paperboy/internal/search"
	"github.com/matsen/paperboy/internal/store"
)

func (s *Server) registerPaperTools() {
	s.mcp.AddTool(&gomcp.Tool{
		Name:        "search_papers",
		Description: "Search the stored arXiv papers by meaning. Falls back to full-text matching when nothing is semantically close.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to look for"},
				"limit": {"type": "number", "description": "Maximum number of results (default 5, max 20)"}
			},
			"required": ["query"]
		}`),
	}, s.handleSearchPapers)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "latest_papers",
		Description: "List the most recently published papers in the store.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "number", "description": "Maximum number of papers (default 5, max 20)"}
			}
		}`),
	}, s.handleLatestPapers)

	s.mcp.AddTool(&gomcp.Tool{
		Name:        "paper_stats",
		Description: "Corpus totals: stored papers, posted papers, last-week intake, and average impact score.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}, s.handlePaperStats)
}

func (s *Server) handleSearchPapers(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}

	if args.Query == "" {
		return toolError("query is required"), nil
	}

	resp, err := s.search.Search(ctx, args.Query, args.Limit)
	if errors.Is(err, search.ErrNoResults) {
		return &gomcp.CallToolResult{
			Content: []gomcp.Content{&gomcp.TextContent{Text: "No papers matched that query."}},
		}, nil
	}
	if err != nil {
		return toolError("search failed: %v", err), nil
	}

	var sb strings.Builder
	if resp.Fallback {
		sb.WriteString("Full-text matches (nothing was semantically close):\n\n")
	}
	for i, r := range resp.Results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, r.Title)
		if r.Similarity > 0 {
			fmt.Fprintf(&sb, " (%s match)", r.Percent())
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "   %s\n", r.URL)
		if r.Summary != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Summary)
		}
		fmt.Fprintf(&sb, "   Score: %d/10", r.ImpactScore)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&sb, " | Tags: %s", strings.Join(r.Tags, ", "))
		}
		sb.WriteString("\n")
	}

	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: sb.String()}},
	}, nil
}

func (s *Server) handleLatestPapers(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return toolError("invalid arguments: %v", err), nil
		}
	}

	papers, err := s.search.Latest(ctx, args.Limit)
	if errors.Is(err, search.ErrNoResults) {
		return &gomcp.CallToolResult{
			Content: []gomcp.Content{&gomcp.TextContent{Text: "No papers stored yet."}},
		}, nil
	}
	if err != nil {
		return toolError("listing papers failed: %v", err), nil
	}

	var sb strings.Builder
	for i, p := range papers {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s (%d/10, published %s)\n",
			i+1, p.Title, p.ImpactScore, p.Published.UTC().Format("2006-01-02"))
		fmt.Fprintf(&sb, "   %s\n", p.URL)
		if p.Summary != "" {
			fmt.Fprintf(&sb, "   %s\n", p.Summary)
		}
	}

	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: sb.String()}},
	}, nil
}

func (s *Server) handlePaperStats(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	st, err := s.search.Stats(ctx)
	if err != nil {
		return toolError("reading stats failed: %v", err), nil
	}

	text := fmt.Sprintf("Papers stored: %d\nPosted to Discord: %d\nAdded in the last 7 days: %d\nAverage impact score: %.1f",
		st.Total, st.Posted, st.LastWeek, st.AvgScore)

	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: text}},
	}, nil
}

// toolError creates an error result for MCP tool responses.
func toolError(format string, args ...interface{}) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
