package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Supabase talks to the hosted deployment through PostgREST. The heavy
// lifting (vector match, full-text, unposted queue) lives in database
// functions created by the schema migration.
type Supabase struct {
	baseURL string
	key     string
	client  *http.Client
}

var _ Store = (*Supabase)(nil)

// supabaseSelect lists the read columns; the embedding column stays
// server-side except on insert and reindex.
const supabaseSelect = "arxiv_id,title,abstract,authors,published_at,url," +
	"impact_score,summary,tags,posted_to_discord,posted_at"

// NewSupabase creates a client for the project at baseURL using the
// service or anon key.
func NewSupabase(baseURL, key string) (*Supabase, error) {
	if baseURL == "" || key == "" {
		return nil, errors.New("supabase url and key are required")
	}
	return &Supabase{
		baseURL: trimSlash(baseURL),
		key:     key,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Close is a no-op; the client holds no persistent connections.
func (s *Supabase) Close() error { return nil }

// apiError carries the status of a failed PostgREST request.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("supabase returned %d: %s", e.Status, e.Body)
}

// do performs one PostgREST request. When out is non-nil the response
// body is decoded into it; prefer sets the Prefer header when non-empty.
func (s *Supabase) do(ctx context.Context, method, path string, query url.Values, prefer string, body, out interface{}) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (s *Supabase) rpc(ctx context.Context, fn string, args, out interface{}) error {
	return s.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, "", args, out)
}

// Insert persists a new paper. PostgREST reports the unique constraint
// violation as 409 Conflict.
func (s *Supabase) Insert(ctx context.Context, p *Paper) error {
	err := s.do(ctx, http.MethodPost, "/rest/v1/arxiv_papers", nil, "return=minimal", p, nil)
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusConflict {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting paper %s: %w", p.ArxivID, err)
	}
	return nil
}

// Exists reports whether a paper with the given arxiv id is persisted.
func (s *Supabase) Exists(ctx context.Context, arxivID string) (bool, error) {
	q := url.Values{}
	q.Set("select", "arxiv_id")
	q.Set("arxiv_id", "eq."+arxivID)
	q.Set("limit", "1")

	var rows []struct {
		ArxivID string `json:"arxiv_id"`
	}
	if err := s.do(ctx, http.MethodGet, "/rest/v1/arxiv_papers", q, "", nil, &rows); err != nil {
		return false, fmt.Errorf("checking existence of %s: %w", arxivID, err)
	}
	return len(rows) > 0, nil
}

// Match calls the vector similarity function.
func (s *Supabase) Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error) {
	args := map[string]interface{}{
		"query_embedding": embedding,
		"match_threshold": threshold,
		"match_count":     limit,
	}
	var matches []Match
	if err := s.rpc(ctx, "arxiv_match_papers", args, &matches); err != nil {
		return nil, fmt.Errorf("matching papers: %w", err)
	}
	return matches, nil
}

// SearchText calls the full-text search function.
func (s *Supabase) SearchText(ctx context.Context, query string, limit int) ([]Paper, error) {
	args := map[string]interface{}{
		"search_query": query,
		"result_limit": limit,
	}
	var papers []Paper
	if err := s.rpc(ctx, "arxiv_search_papers_fulltext", args, &papers); err != nil {
		return nil, fmt.Errorf("searching papers: %w", err)
	}
	return papers, nil
}

// Unposted calls the posting-queue function.
func (s *Supabase) Unposted(ctx context.Context, minScore int) ([]Paper, error) {
	args := map[string]interface{}{
		"min_impact_score": minScore,
	}
	var papers []Paper
	if err := s.rpc(ctx, "arxiv_get_unposted_papers", args, &papers); err != nil {
		return nil, fmt.Errorf("listing unposted: %w", err)
	}
	return papers, nil
}

// MarkPosted flips the posted flag and records the delivery time.
func (s *Supabase) MarkPosted(ctx context.Context, arxivID string, at time.Time) error {
	q := url.Values{}
	q.Set("arxiv_id", "eq."+arxivID)

	patch := map[string]interface{}{
		"posted_to_discord": true,
		"posted_at":         at.UTC(),
	}
	var rows []struct {
		ArxivID string `json:"arxiv_id"`
	}
	err := s.do(ctx, http.MethodPatch, "/rest/v1/arxiv_papers", q, "return=representation", patch, &rows)
	if err != nil {
		return fmt.Errorf("marking %s posted: %w", arxivID, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns papers ordered by publication date descending.
func (s *Supabase) List(ctx context.Context, limit, offset int) ([]Paper, error) {
	q := url.Values{}
	q.Set("select", supabaseSelect)
	q.Set("order", "published_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var papers []Paper
	if err := s.do(ctx, http.MethodGet, "/rest/v1/arxiv_papers", q, "", nil, &papers); err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	return papers, nil
}

// UpdateEmbedding replaces a paper's embedding.
func (s *Supabase) UpdateEmbedding(ctx context.Context, arxivID string, embedding []float32) error {
	q := url.Values{}
	q.Set("arxiv_id", "eq."+arxivID)

	patch := map[string]interface{}{
		"embedding": embedding,
	}
	var rows []struct {
		ArxivID string `json:"arxiv_id"`
	}
	err := s.do(ctx, http.MethodPatch, "/rest/v1/arxiv_papers", q, "return=representation", patch, &rows)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", arxivID, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats calls the corpus totals function.
func (s *Supabase) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.rpc(ctx, "arxiv_paper_stats", map[string]interface{}{}, &st); err != nil {
		return nil, fmt.Errorf("fetching stats: %w", err)
	}
	return &st, nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
