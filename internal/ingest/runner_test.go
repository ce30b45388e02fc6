package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/matsen/paperboy/internal/feed"
	"github.com/matsen/paperboy/internal/judge"
	"github.com/matsen/paperboy/internal/store"
)

type fakeFeed struct {
	candidates []feed.Candidate
	err        error
}

func (f *fakeFeed) Recent(ctx context.Context, now time.Time) ([]feed.Candidate, error) {
	return f.candidates, f.err
}

type fakeEmbedder struct {
	failMarker string
	calls      int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failMarker != "" && strings.Contains(text, f.failMarker) {
		return nil, errors.New("embedding service down")
	}
	return []float32{1, 0, 0}, nil
}

type fakeJudge struct {
	calls      int
	batchSizes []int
	omit       map[string]bool
	err        error
}

func (f *fakeJudge) JudgeBatch(ctx context.Context, items []judge.Item) (map[string]judge.Judgment, error) {
	f.calls++
	f.batchSizes = append(f.batchSizes, len(items))
	out := make(map[string]judge.Judgment, len(items))
	if f.err != nil {
		return out, f.err
	}
	for _, item := range items {
		if f.omit[item.ID] {
			continue
		}
		out[item.ID] = judge.Judgment{Score: 8, Summary: "Judged " + item.ID, Tags: []string{"ML"}}
	}
	return out, nil
}

type fakeStore struct {
	existing  map[string]bool
	existsErr error
	insertErr map[string]error
	inserted  []*store.Paper
}

func (f *fakeStore) Exists(ctx context.Context, arxivID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[arxivID], nil
}

func (f *fakeStore) Insert(ctx context.Context, p *store.Paper) error {
	if err := f.insertErr[p.ArxivID]; err != nil {
		return err
	}
	f.inserted = append(f.inserted, p)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeCandidates(n int) []feed.Candidate {
	out := make([]feed.Candidate, n)
	for i := range out {
		id := fmt.Sprintf("2408.%05d", i)
		out[i] = feed.Candidate{
			ArxivID:   id,
			Title:     fmt.Sprintf("Paper %d", i),
			Abstract:  "An abstract.",
			Authors:   []string{"Ada Lovelace"},
			Published: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
			URL:       "http://arxiv.org/abs/" + id,
		}
	}
	return out
}

// newTestRunner returns a runner with instant, counted sleeps.
func newTestRunner(f Feed, e Embedder, j Judge, s Store) (*Runner, *int) {
	r := NewRunner(f, e, j, s, discardLogger())
	sleeps := 0
	r.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return r, &sleeps
}

func TestRunner_BatchingAndDelays(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(23)}
	e := &fakeEmbedder{}
	j := &fakeJudge{}
	s := &fakeStore{}
	r, sleeps := newTestRunner(f, e, j, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if j.calls != 3 {
		t.Errorf("judge calls = %d, want 3", j.calls)
	}
	if len(j.batchSizes) != 3 || j.batchSizes[0] != 10 || j.batchSizes[1] != 10 || j.batchSizes[2] != 3 {
		t.Errorf("batch sizes = %v, want [10 10 3]", j.batchSizes)
	}
	if *sleeps != 2 {
		t.Errorf("inter-batch delays = %d, want 2", *sleeps)
	}
	if stats.Fetched != 23 || stats.New != 23 || stats.Duplicates != 0 || stats.Errors != 0 {
		t.Errorf("stats = %+v, want 23 fetched, 23 new", stats)
	}
	if stats.EmbeddingCalls != 23 {
		t.Errorf("embedding calls = %d, want 23", stats.EmbeddingCalls)
	}
	if stats.JudgeCalls != 3 {
		t.Errorf("judge call count = %d, want 3", stats.JudgeCalls)
	}
	if stats.RunID == "" {
		t.Error("run id is empty")
	}
	if len(s.inserted) != 23 {
		t.Errorf("inserted %d papers, want 23", len(s.inserted))
	}
}

func TestRunner_MergesJudgments(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(2)}
	s := &fakeStore{}
	j := &fakeJudge{}
	r, _ := newTestRunner(f, &fakeEmbedder{}, j, s)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	p := s.inserted[0]
	if p.ImpactScore != 8 || p.Summary != "Judged "+p.ArxivID {
		t.Errorf("paper = %+v, want judged fields merged", p)
	}
	if len(p.Embedding) != 3 {
		t.Errorf("embedding length = %d, want 3", len(p.Embedding))
	}
	if p.Posted {
		t.Error("new paper must not be marked posted")
	}
}

func TestRunner_BackfillsDefaultJudgment(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(3)}
	j := &fakeJudge{omit: map[string]bool{"2408.00001": true}}
	s := &fakeStore{}
	r, _ := newTestRunner(f, &fakeEmbedder{}, j, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.New != 3 {
		t.Fatalf("stats.New = %d, want 3 (omitted judgment still persists)", stats.New)
	}

	var omitted *store.Paper
	for _, p := range s.inserted {
		if p.ArxivID == "2408.00001" {
			omitted = p
		}
	}
	if omitted == nil {
		t.Fatal("omitted paper was not persisted")
	}
	if omitted.ImpactScore != 5 || omitted.Summary != "Paper 1" {
		t.Errorf("omitted paper = score %d summary %q, want default 5/title", omitted.ImpactScore, omitted.Summary)
	}
	if len(omitted.Tags) != 1 || omitted.Tags[0] != "Other" {
		t.Errorf("omitted paper tags = %v, want [Other]", omitted.Tags)
	}
}

func TestRunner_JudgeTotalFailure(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(2)}
	j := &fakeJudge{err: errors.New("model quota exhausted")}
	s := &fakeStore{}
	r, _ := newTestRunner(f, &fakeEmbedder{}, j, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v (judge failure must not be fatal)", err)
	}
	if stats.New != 2 {
		t.Errorf("stats.New = %d, want 2 with default judgments", stats.New)
	}
	for _, p := range s.inserted {
		if p.ImpactScore != 5 {
			t.Errorf("paper %s score = %d, want default 5", p.ArxivID, p.ImpactScore)
		}
	}
}

func TestRunner_DedupFilter(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(5)}
	s := &fakeStore{existing: map[string]bool{"2408.00000": true, "2408.00003": true}}
	e := &fakeEmbedder{}
	r, _ := newTestRunner(f, e, &fakeJudge{}, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Duplicates != 2 {
		t.Errorf("stats.Duplicates = %d, want 2", stats.Duplicates)
	}
	if stats.New != 3 {
		t.Errorf("stats.New = %d, want 3", stats.New)
	}
	if e.calls != 3 {
		t.Errorf("embed calls = %d, want 3 (known papers skip expensive calls)", e.calls)
	}
}

func TestRunner_DedupFailsOpen(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(2)}
	s := &fakeStore{existsErr: errors.New("store unreachable")}
	r, _ := newTestRunner(f, &fakeEmbedder{}, &fakeJudge{}, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.New != 2 {
		t.Errorf("stats.New = %d, want 2 (existence failure treats papers as new)", stats.New)
	}
}

func TestRunner_EmbeddingFailureSkipsPaper(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(3)}
	e := &fakeEmbedder{failMarker: "Paper 1."}
	j := &fakeJudge{}
	s := &fakeStore{}
	r, _ := newTestRunner(f, e, j, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("stats.Errors = %d, want 1", stats.Errors)
	}
	if stats.New != 2 {
		t.Errorf("stats.New = %d, want 2", stats.New)
	}
	if len(j.batchSizes) != 1 || j.batchSizes[0] != 2 {
		t.Errorf("judge batch sizes = %v, want [2] (failed paper removed)", j.batchSizes)
	}
}

func TestRunner_DuplicateInsertIsNotError(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(2)}
	s := &fakeStore{insertErr: map[string]error{"2408.00000": store.ErrDuplicate}}
	r, _ := newTestRunner(f, &fakeEmbedder{}, &fakeJudge{}, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Duplicates != 1 {
		t.Errorf("stats.Duplicates = %d, want 1", stats.Duplicates)
	}
	if stats.Errors != 0 {
		t.Errorf("stats.Errors = %d, want 0 (duplicate conflict is success-equivalent)", stats.Errors)
	}
	if stats.New != 1 {
		t.Errorf("stats.New = %d, want 1", stats.New)
	}
}

func TestRunner_PersistFailureIsPerPaper(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(3)}
	s := &fakeStore{insertErr: map[string]error{"2408.00001": errors.New("disk full")}}
	r, _ := newTestRunner(f, &fakeEmbedder{}, &fakeJudge{}, s)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v (persist failure must not abort the run)", err)
	}
	if stats.Errors != 1 || stats.New != 2 {
		t.Errorf("stats = %+v, want 1 error, 2 new", stats)
	}
}

func TestRunner_FeedFailureIsFatal(t *testing.T) {
	f := &fakeFeed{err: errors.New("arxiv unreachable")}
	r, _ := newTestRunner(f, &fakeEmbedder{}, &fakeJudge{}, &fakeStore{})

	stats, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected error for feed failure")
	}
	if stats != nil {
		t.Errorf("Run() stats = %+v, want nil on fatal feed failure", stats)
	}
}

func TestRunner_CancelBetweenBatches(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(23)}
	j := &fakeJudge{}
	s := &fakeStore{}
	r := NewRunner(f, &fakeEmbedder{}, j, s, discardLogger())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	stats, err := r.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if stats == nil {
		t.Fatal("Run() returned nil stats on cancellation")
	}
	if stats.New != 10 {
		t.Errorf("stats.New = %d, want 10 (first batch durable before cancellation)", stats.New)
	}
	if j.calls != 1 {
		t.Errorf("judge calls = %d, want 1", j.calls)
	}
}

func TestRunner_CustomBatchSize(t *testing.T) {
	f := &fakeFeed{candidates: makeCandidates(7)}
	j := &fakeJudge{}
	r := NewRunner(f, &fakeEmbedder{}, j, &fakeStore{}, discardLogger(), WithBatchSize(3))
	sleeps := 0
	r.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(j.batchSizes) != 3 || j.batchSizes[0] != 3 || j.batchSizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [3 3 1]", j.batchSizes)
	}
	if sleeps != 2 {
		t.Errorf("delays = %d, want 2", sleeps)
	}
}
