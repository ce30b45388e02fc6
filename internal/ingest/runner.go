// Package ingest drives the pipeline: fetch candidates, filter known
// ids, embed and judge in batches, persist enriched papers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matsen/paperboy/internal/feed"
	"github.com/matsen/paperboy/internal/judge"
	"github.com/matsen/paperboy/internal/store"
)

const (
	// DefaultBatchSize is how many papers share one judgment call.
	DefaultBatchSize = 10

	// DefaultBatchDelay spaces consecutive judgment calls under the
	// model provider's requests-per-minute ceiling.
	DefaultBatchDelay = 5 * time.Second
)

// Feed supplies the candidate window.
type Feed interface {
	Recent(ctx context.Context, now time.Time) ([]feed.Candidate, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Judge scores a batch of papers.
type Judge interface {
	JudgeBatch(ctx context.Context, items []judge.Item) (map[string]judge.Judgment, error)
}

// Store is the subset of persistence the runner needs.
type Store interface {
	Exists(ctx context.Context, arxivID string) (bool, error)
	Insert(ctx context.Context, p *store.Paper) error
}

// RunStats counts one ingestion run's outcomes.
type RunStats struct {
	RunID          string    `json:"run_id"`
	Started        time.Time `json:"started_at"`
	Finished       time.Time `json:"finished_at"`
	Fetched        int       `json:"fetched"`
	New            int       `json:"new"`
	Duplicates     int       `json:"duplicates"`
	Errors         int       `json:"errors"`
	JudgeCalls     int       `json:"judge_calls"`
	EmbeddingCalls int       `json:"embedding_calls"`
}

// Runner executes ingestion runs. Safe to re-run over the same window:
// the dedup filter plus the store's uniqueness constraint keep records
// unique per arxiv id.
type Runner struct {
	feed     Feed
	embedder Embedder
	judge    Judge
	store    Store
	log      *slog.Logger

	batchSize  int
	batchDelay time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBatchSize sets how many papers share one judgment call.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between consecutive batches.
func WithBatchDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.batchDelay = d
	}
}

// NewRunner wires an ingestion runner.
func NewRunner(f Feed, e Embedder, j Judge, s Store, log *slog.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		feed:       f,
		embedder:   e,
		judge:      j,
		store:      s,
		log:        log,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one ingestion pass. Only a feed fetch failure is fatal;
// every per-paper failure is counted and skipped, to be retried by the
// next scheduled run since failed papers are never persisted.
// Cancellation lands at batch boundaries and returns the stats
// accumulated so far.
func (r *Runner) Run(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		RunID:   uuid.New().String(),
		Started: r.now().UTC(),
	}
	log := r.log.With("run_id", stats.RunID)

	candidates, err := r.feed.Recent(ctx, r.now())
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	stats.Fetched = len(candidates)
	log.Info("fetched candidates", "count", stats.Fetched)

	toProcess := r.filterNew(ctx, candidates, stats, log)
	log.Info("dedup filter applied", "new", len(toProcess), "duplicates", stats.Duplicates)

	for i := 0; i < len(toProcess); i += r.batchSize {
		if i > 0 {
			if err := r.sleep(ctx, r.batchDelay); err != nil {
				stats.Finished = r.now().UTC()
				return stats, err
			}
		}
		if err := ctx.Err(); err != nil {
			stats.Finished = r.now().UTC()
			return stats, err
		}

		end := i + r.batchSize
		if end > len(toProcess) {
			end = len(toProcess)
		}
		r.processBatch(ctx, toProcess[i:end], stats, log)
		log.Info("batch complete", "batch", i/r.batchSize+1, "new", stats.New, "errors", stats.Errors)
	}

	stats.Finished = r.now().UTC()
	log.Info("run complete",
		"fetched", stats.Fetched,
		"new", stats.New,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors)
	return stats, nil
}

// filterNew drops candidates already persisted. An existence check
// failure counts the paper as new: a duplicate insert attempt is
// harmless (the uniqueness constraint catches it) while a skipped real
// paper is lost until someone notices.
func (r *Runner) filterNew(ctx context.Context, candidates []feed.Candidate, stats *RunStats, log *slog.Logger) []feed.Candidate {
	toProcess := make([]feed.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		exists, err := r.store.Exists(ctx, cand.ArxivID)
		if err != nil {
			log.Warn("existence check failed, treating as new", "arxiv_id", cand.ArxivID, "error", err)
			exists = false
		}
		if exists {
			stats.Duplicates++
			continue
		}
		toProcess = append(toProcess, cand)
	}
	return toProcess
}

// processBatch embeds each paper, judges the survivors in one call,
// merges judgments over the full batch with defaults for omitted ids,
// and persists each result.
func (r *Runner) processBatch(ctx context.Context, batch []feed.Candidate, stats *RunStats, log *slog.Logger) {
	type embedded struct {
		candidate feed.Candidate
		vector    []float32
	}

	survivors := make([]embedded, 0, len(batch))
	items := make([]judge.Item, 0, len(batch))
	for _, cand := range batch {
		stats.EmbeddingCalls++
		vector, err := r.embedder.Embed(ctx, EmbedText(cand.Title, cand.Abstract))
		if err != nil {
			stats.Errors++
			log.Warn("embedding failed, skipping paper", "arxiv_id", cand.ArxivID, "error", err)
			continue
		}
		survivors = append(survivors, embedded{candidate: cand, vector: vector})
		items = append(items, judge.Item{ID: cand.ArxivID, Title: cand.Title, Abstract: cand.Abstract})
	}

	if len(survivors) == 0 {
		return
	}

	stats.JudgeCalls++
	judgments, err := r.judge.JudgeBatch(ctx, items)
	if err != nil {
		log.Warn("judgment degraded to defaults", "error", err)
	}

	for _, e := range survivors {
		cand := e.candidate
		j, ok := judgments[cand.ArxivID]
		if !ok {
			j = judge.Default(cand.Title)
		}

		paper := &store.Paper{
			ArxivID:     cand.ArxivID,
			Title:       cand.Title,
			Abstract:    cand.Abstract,
			Authors:     cand.Authors,
			Published:   cand.Published,
			URL:         cand.URL,
			ImpactScore: j.Score,
			Summary:     j.Summary,
			Tags:        j.Tags,
			Embedding:   e.vector,
		}

		switch err := r.store.Insert(ctx, paper); {
		case err == nil:
			stats.New++
		case errors.Is(err, store.ErrDuplicate):
			stats.Duplicates++
		default:
			stats.Errors++
			log.Warn("persist failed", "arxiv_id", cand.ArxivID, "error", err)
		}
	}
}

// EmbedText is the canonical text embedded for a paper; queries embed
// free text directly.
func EmbedText(title, abstract string) string {
	return title + ". " + abstract
}

// sleepContext pauses for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
