// Package search implements the ranked read path: vector similarity
// with a full-text fallback.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/matsen/paperboy/internal/store"
)

const (
	// SimilarityThreshold is the minimum cosine similarity for a vector hit.
	SimilarityThreshold = 0.3

	// DefaultLimit is used when the caller asks for no particular count.
	DefaultLimit = 5

	// MaxLimit caps the result count.
	MaxLimit = 20
)

// ErrNoResults distinguishes an empty result set from a service error.
var ErrNoResults = errors.New("no matching papers")

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store serves the read paths.
type Store interface {
	Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]store.Match, error)
	SearchText(ctx context.Context, query string, limit int) ([]store.Paper, error)
	List(ctx context.Context, limit, offset int) ([]store.Paper, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Result is one ranked hit. Similarity is zero for full-text hits.
type Result struct {
	store.Paper
	Similarity float64 `json:"similarity,omitempty"`
}

// Percent formats the similarity for display.
func (r Result) Percent() string {
	return fmt.Sprintf("%.1f%%", r.Similarity*100)
}

// Response is one answered search.
type Response struct {
	Query    string   `json:"query"`
	Results  []Result `json:"results"`
	Fallback bool     `json:"fallback"`
}

// Service answers queries against the store.
type Service struct {
	embedder Embedder
	store    Store
	log      *slog.Logger
}

// New wires a search service.
func New(e Embedder, s Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{embedder: e, store: s, log: log}
}

// Search embeds the query and ranks papers by similarity above the
// threshold; when the vector path yields nothing (including an
// embedding failure), it falls back to full-text search. Returns
// ErrNoResults when both paths come up empty.
func (s *Service) Search(ctx context.Context, query string, limit int) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	limit = clampLimit(limit)

	var results []Result
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed, using full-text only", "error", err)
	} else {
		matches, err := s.store.Match(ctx, vector, SimilarityThreshold, limit)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		for _, m := range matches {
			results = append(results, Result{Paper: m.Paper, Similarity: m.Similarity})
		}
	}

	fallback := false
	if len(results) == 0 {
		papers, err := s.store.SearchText(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("full-text search: %w", err)
		}
		for _, p := range papers {
			results = append(results, Result{Paper: p})
		}
		fallback = len(results) > 0
	}

	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return &Response{Query: query, Results: results, Fallback: fallback}, nil
}

// Latest returns the most recently published papers.
func (s *Service) Latest(ctx context.Context, limit int) ([]store.Paper, error) {
	papers, err := s.store.List(ctx, clampLimit(limit), 0)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	if len(papers) == 0 {
		return nil, ErrNoResults
	}
	return papers, nil
}

// Stats returns corpus totals.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching stats: %w", err)
	}
	return st, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
