package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "papers.db")
	s, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPaper(id, title string, score int, embedding []float32) *Paper {
	return &Paper{
		ArxivID:     id,
		Title:       title,
		Abstract:    "An abstract about " + title + ".",
		Authors:     []string{"Ada Lovelace", "Alan Turing"},
		Published:   time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC),
		URL:         "https://arxiv.org/abs/" + id,
		ImpactScore: score,
		Summary:     "One line about " + title + ".",
		Tags:        []string{"ML", "Theory"},
		Embedding:   embedding,
	}
}

func TestSQLite_InsertAndExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testPaper("2608.01001v1", "Sparse Attention Revisited", 7, []float32{1, 0, 0})
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	exists, err := s.Exists(ctx, p.ArxivID)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false after insert, want true")
	}

	exists, err = s.Exists(ctx, "2608.09999v1")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true for unknown id, want false")
	}
}

func TestSQLite_InsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testPaper("2608.01001v1", "Sparse Attention Revisited", 7, []float32{1, 0, 0})
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("first Insert() error = %v", err)
	}

	err := s.Insert(ctx, p)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Insert() error = %v, want ErrDuplicate", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Total != 1 {
		t.Errorf("Stats().Total = %d after duplicate insert, want 1", st.Total)
	}
}

func TestSQLite_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	postedAt := time.Date(2026, 8, 20, 6, 30, 0, 0, time.UTC)
	p := testPaper("2608.01002v2", "Diffusion Models for Robotics", 9, []float32{0, 1, 0})
	p.Posted = true
	p.PostedAt = &postedAt

	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d papers, want 1", len(got))
	}

	g := got[0]
	if g.ArxivID != p.ArxivID || g.Title != p.Title || g.Abstract != p.Abstract {
		t.Errorf("List() returned %+v, want fields of %+v", g, *p)
	}
	if len(g.Authors) != 2 || g.Authors[0] != "Ada Lovelace" {
		t.Errorf("Authors = %v, want %v", g.Authors, p.Authors)
	}
	if len(g.Tags) != 2 || g.Tags[1] != "Theory" {
		t.Errorf("Tags = %v, want %v", g.Tags, p.Tags)
	}
	if !g.Published.Equal(p.Published) {
		t.Errorf("Published = %v, want %v", g.Published, p.Published)
	}
	if !g.Posted {
		t.Error("Posted = false, want true")
	}
	if g.PostedAt == nil || !g.PostedAt.Equal(postedAt) {
		t.Errorf("PostedAt = %v, want %v", g.PostedAt, postedAt)
	}
}

func TestSQLite_Match(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	papers := []*Paper{
		testPaper("2608.00001v1", "Exact Match", 6, []float32{1, 0, 0}),
		testPaper("2608.00002v1", "Near Match", 6, []float32{0.6, 0.8, 0}),
		testPaper("2608.00003v1", "Orthogonal", 6, []float32{0, 1, 0}),
		testPaper("2608.00004v1", "No Embedding", 6, nil),
	}
	for _, p := range papers {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("Insert(%s) error = %v", p.ArxivID, err)
		}
	}

	matches, err := s.Match(ctx, []float32{1, 0, 0}, 0.5, 10)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Match() returned %d results, want 2", len(matches))
	}
	if matches[0].ArxivID != "2608.00001v1" || matches[1].ArxivID != "2608.00002v1" {
		t.Errorf("Match() order = [%s, %s], want exact then near",
			matches[0].ArxivID, matches[1].ArxivID)
	}
	if math.Abs(matches[0].Similarity-1.0) > 0.0001 {
		t.Errorf("top Similarity = %f, want 1.0", matches[0].Similarity)
	}
	if math.Abs(matches[1].Similarity-0.6) > 0.0001 {
		t.Errorf("second Similarity = %f, want 0.6", matches[1].Similarity)
	}

	// Limit applies after ranking
	matches, err = s.Match(ctx, []float32{1, 0, 0}, 0.3, 1)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(matches) != 1 || matches[0].ArxivID != "2608.00001v1" {
		t.Errorf("Match() with limit 1 = %v, want just the exact match", matches)
	}
}

func TestSQLite_SearchText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testPaper("2608.00010v1", "Vision Transformers at Scale", 6, nil)
	a.Abstract = "We scale vision transformers to billions of parameters."
	b := testPaper("2608.00011v1", "Protein Folding Dynamics", 6, nil)
	b.Abstract = "Molecular dynamics for protein structure."
	for _, p := range []*Paper{a, b} {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("Insert(%s) error = %v", p.ArxivID, err)
		}
	}

	got, err := s.SearchText(ctx, "transformers", 5)
	if err != nil {
		t.Fatalf("SearchText() error = %v", err)
	}
	if len(got) != 1 || got[0].ArxivID != a.ArxivID {
		t.Errorf("SearchText(transformers) = %v, want only %s", got, a.ArxivID)
	}

	got, err = s.SearchText(ctx, "quantum chromodynamics", 5)
	if err != nil {
		t.Fatalf("SearchText() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("SearchText() for absent terms returned %d results, want 0", len(got))
	}

	// Queries with FTS5 operators must not error out
	if _, err := s.SearchText(ctx, `"quoted" AND (special)`, 5); err != nil {
		t.Errorf("SearchText() with special characters error = %v", err)
	}
}

func TestSQLite_UnpostedAndMarkPosted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	high := testPaper("2608.00020v1", "High Impact", 9, nil)
	low := testPaper("2608.00021v1", "Low Impact", 4, nil)
	done := testPaper("2608.00022v1", "Already Posted", 10, nil)
	done.Posted = true
	for _, p := range []*Paper{high, low, done} {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("Insert(%s) error = %v", p.ArxivID, err)
		}
	}

	queue, err := s.Unposted(ctx, 7)
	if err != nil {
		t.Fatalf("Unposted() error = %v", err)
	}
	if len(queue) != 1 || queue[0].ArxivID != high.ArxivID {
		t.Fatalf("Unposted(7) = %v, want only %s", queue, high.ArxivID)
	}

	at := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	if err := s.MarkPosted(ctx, high.ArxivID, at); err != nil {
		t.Fatalf("MarkPosted() error = %v", err)
	}

	queue, err = s.Unposted(ctx, 7)
	if err != nil {
		t.Fatalf("Unposted() error = %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("Unposted() after MarkPosted returned %d papers, want 0", len(queue))
	}

	err = s.MarkPosted(ctx, "2608.99999v1", at)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkPosted(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_UpdateEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testPaper("2608.00030v1", "Reindexed Paper", 6, []float32{0, 1, 0})
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := s.UpdateEmbedding(ctx, p.ArxivID, []float32{1, 0, 0}); err != nil {
		t.Fatalf("UpdateEmbedding() error = %v", err)
	}

	matches, err := s.Match(ctx, []float32{1, 0, 0}, 0.9, 5)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Match() after UpdateEmbedding returned %d results, want 1", len(matches))
	}

	err = s.UpdateEmbedding(ctx, "2608.99999v1", []float32{1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEmbedding(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recent := testPaper("2608.00040v1", "Recent", 8, nil)
	recent.Published = time.Now().UTC().AddDate(0, 0, -1)
	old := testPaper("2601.00041v1", "Old", 4, nil)
	old.Published = time.Now().UTC().AddDate(0, 0, -30)
	old.Posted = true
	for _, p := range []*Paper{recent, old} {
		if err := s.Insert(ctx, p); err != nil {
			t.Fatalf("Insert(%s) error = %v", p.ArxivID, err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Total != 2 {
		t.Errorf("Total = %d, want 2", st.Total)
	}
	if st.Posted != 1 {
		t.Errorf("Posted = %d, want 1", st.Posted)
	}
	if st.LastWeek != 1 {
		t.Errorf("LastWeek = %d, want 1", st.LastWeek)
	}
	if math.Abs(st.AvgScore-6.0) > 0.0001 {
		t.Errorf("AvgScore = %f, want 6.0", st.AvgScore)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"mismatched lengths", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("cosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestEmbeddingCodec(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.25, 0}
	got := decodeEmbedding(encodeEmbedding(vec))
	if len(got) != len(vec) {
		t.Fatalf("decoded length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("decoded[%d] = %f, want %f", i, got[i], vec[i])
		}
	}

	if encodeEmbedding(nil) != nil {
		t.Error("encodeEmbedding(nil) should be nil")
	}
	if decodeEmbedding([]byte{1, 2, 3}) != nil {
		t.Error("decodeEmbedding() with a truncated buffer should be nil")
	}
}
