package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matsen/paperboy/internal/store"
)

const (
	// reindexPageSize is papers listed per store page.
	reindexPageSize = 500

	// reindexChunkSize is texts per embedding request, matching the
	// embedding service's batch cap.
	reindexChunkSize = 100
)

// Catalog pages stored papers and accepts replacement embeddings.
type Catalog interface {
	List(ctx context.Context, limit, offset int) ([]store.Paper, error)
	UpdateEmbedding(ctx context.Context, arxivID string, embedding []float32) error
}

// BatchEmbedder embeds many texts in one request.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ReindexStats counts one reindex pass.
type ReindexStats struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
}

// Reindexer recomputes every stored paper's embedding, for when the
// embedding model changes and the old vector space no longer matches
// query vectors.
type Reindexer struct {
	catalog  Catalog
	embedder BatchEmbedder
	log      *slog.Logger

	pageSize int
	progress func(processed int)
}

// ReindexerOption configures a Reindexer.
type ReindexerOption func(*Reindexer)

// WithProgress registers a callback invoked after each processed paper.
func WithProgress(fn func(processed int)) ReindexerOption {
	return func(r *Reindexer) {
		r.progress = fn
	}
}

// NewReindexer wires a reindexer.
func NewReindexer(c Catalog, e BatchEmbedder, log *slog.Logger, opts ...ReindexerOption) *Reindexer {
	if log == nil {
		log = slog.Default()
	}
	r := &Reindexer{
		catalog:  c,
		embedder: e,
		log:      log,
		pageSize: reindexPageSize,
		progress: func(int) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run re-embeds the whole corpus. A failed embedding chunk or a failed
// update skips those papers and continues; only a store listing failure
// is fatal.
func (r *Reindexer) Run(ctx context.Context) (*ReindexStats, error) {
	stats := &ReindexStats{}

	for offset := 0; ; offset += r.pageSize {
		papers, err := r.catalog.List(ctx, r.pageSize, offset)
		if err != nil {
			return stats, fmt.Errorf("listing papers at offset %d: %w", offset, err)
		}
		if len(papers) == 0 {
			break
		}

		for start := 0; start < len(papers); start += reindexChunkSize {
			end := start + reindexChunkSize
			if end > len(papers) {
				end = len(papers)
			}
			r.reindexChunk(ctx, papers[start:end], stats)
		}

		if len(papers) < r.pageSize {
			break
		}
	}

	r.log.Info("reindex complete", "processed", stats.Processed, "updated", stats.Updated, "errors", stats.Errors)
	return stats, nil
}

func (r *Reindexer) reindexChunk(ctx context.Context, chunk []store.Paper, stats *ReindexStats) {
	texts := make([]string, len(chunk))
	for i, p := range chunk {
		texts[i] = EmbedText(p.Title, p.Abstract)
	}

	embeddings, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		stats.Processed += len(chunk)
		stats.Errors += len(chunk)
		r.log.Warn("embedding chunk failed, skipping", "size", len(chunk), "error", err)
		r.progress(stats.Processed)
		return
	}

	for i, p := range chunk {
		stats.Processed++
		if err := r.catalog.UpdateEmbedding(ctx, p.ArxivID, embeddings[i]); err != nil {
			stats.Errors++
			r.log.Warn("embedding update failed", "arxiv_id", p.ArxivID, "error", err)
		} else {
			stats.Updated++
		}
		r.progress(stats.Processed)
	}
}
