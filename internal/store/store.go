// Package store persists enriched papers and serves the read paths:
// vector similarity, full-text fallback, and the posting queue.
//
// Three backends implement the same interface: supabase (PostgREST, the
// hosted deployment), postgres (pgx + pgvector, self-hosted), and sqlite
// (pure Go, local use and tests). The arxiv_id uniqueness constraint is
// the final dedup authority everywhere; a conflicting insert reports
// ErrDuplicate and callers treat it as success-equivalent.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicate is returned by Insert when a paper with the same
	// arxiv id already exists.
	ErrDuplicate = errors.New("paper already exists")

	// ErrNotFound is returned by updates that matched no row.
	ErrNotFound = errors.New("paper not found")
)

// Paper is one enriched arXiv paper. Created once per arxiv id; only the
// posting fields and the embedding are ever updated afterwards.
type Paper struct {
	ArxivID     string     `json:"arxiv_id"`
	Title       string     `json:"title"`
	Abstract    string     `json:"abstract"`
	Authors     []string   `json:"authors"`
	Published   time.Time  `json:"published_at"`
	URL         string     `json:"url"`
	ImpactScore int        `json:"impact_score"`
	Summary     string     `json:"summary"`
	Tags        []string   `json:"tags"`
	Embedding   []float32  `json:"embedding,omitempty"`
	Posted      bool       `json:"posted_to_discord"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// Match is a similarity search hit.
type Match struct {
	Paper
	Similarity float64 `json:"similarity"`
}

// Stats summarizes the stored corpus for the stats surfaces.
type Stats struct {
	Total    int     `json:"total"`
	Posted   int     `json:"posted"`
	LastWeek int     `json:"last_week"`
	AvgScore float64 `json:"avg_score"`
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// Insert persists a new paper. Returns ErrDuplicate if the arxiv id
	// is already present.
	Insert(ctx context.Context, p *Paper) error

	// Exists reports whether a paper with the given arxiv id is persisted.
	Exists(ctx context.Context, arxivID string) (bool, error)

	// Match returns papers whose embedding similarity to the query vector
	// meets the threshold, ordered by similarity descending, at most limit.
	Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error)

	// SearchText is the lexical fallback: full-text search over title and
	// abstract, at most limit results.
	SearchText(ctx context.Context, query string, limit int) ([]Paper, error)

	// Unposted returns papers not yet posted whose impact score is at
	// least minScore, best first.
	Unposted(ctx context.Context, minScore int) ([]Paper, error)

	// MarkPosted flips the posted flag and records the delivery time.
	MarkPosted(ctx context.Context, arxivID string, at time.Time) error

	// List returns papers ordered by publication date descending.
	List(ctx context.Context, limit, offset int) ([]Paper, error)

	// UpdateEmbedding replaces a paper's embedding (reindex path).
	UpdateEmbedding(ctx context.Context, arxivID string, embedding []float32) error

	// Stats returns corpus totals.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Driver      string // "supabase" (default), "postgres", "sqlite"
	SupabaseURL string
	SupabaseKey string
	DatabaseURL string // postgres connection string
	Path        string // sqlite database file
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "supabase":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
