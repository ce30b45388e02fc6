// Package integration provides end-to-end tests for paperboy commands.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/matsen/paperboy/internal/store"
)

var (
	paperboyBinary     string
	paperboyBinaryOnce sync.Once
	paperboyBinaryErr  error
)

// getPaperboyBinary builds the paperboy binary once and returns its path.
func getPaperboyBinary(t *testing.T) string {
	t.Helper()
	paperboyBinaryOnce.Do(func() {
		// Get module root directory
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			paperboyBinaryErr = os.ErrInvalid
			return
		}
		moduleRoot := filepath.Dir(filepath.Dir(filepath.Dir(filename)))

		// Build paperboy to a temp location
		tmpDir, err := os.MkdirTemp("", "paperboy-test-*")
		if err != nil {
			paperboyBinaryErr = err
			return
		}
		paperboyBinary = filepath.Join(tmpDir, "paperboy")

		cmd := exec.Command("go", "build", "-o", paperboyBinary, "./cmd/paperboy")
		cmd.Dir = moduleRoot
		if output, err := cmd.CombinedOutput(); err != nil {
			paperboyBinaryErr = &buildError{output: string(output), err: err}
			return
		}
	})
	if paperboyBinaryErr != nil {
		t.Fatalf("failed to build paperboy: %v", paperboyBinaryErr)
	}
	return paperboyBinary
}

type buildError struct {
	output string
	err    error
}

func (e *buildError) Error() string {
	return e.err.Error() + ": " + e.output
}

// axisVector returns a unit vector along the given axis, so tests can
// pick exactly which stored paper a query lands on.
func axisVector(axis int) []float32 {
	v := make([]float32, 384)
	v[axis] = 1
	return v
}

// startEmbedServer fakes the embedding service. Every query text embeds
// to the axis-0 unit vector.
func startEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "healthy",
			"model":      "all-MiniLM-L6-v2",
			"dimensions": 384,
		})
	})
	mux.HandleFunc("POST /embed", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": axisVector(0)})
	})
	mux.HandleFunc("POST /batch_embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		embeddings := make([][]float32, len(req.Texts))
		for i := range embeddings {
			embeddings[i] = axisVector(0)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": embeddings,
			"count":      len(req.Texts),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// testEnv fully specifies every setting paperboy reads, so ambient
// variables never leak into a test run.
func testEnv(dbPath, embedURL string) []string {
	return append(os.Environ(),
		"PAPERBOY_DB=sqlite",
		"PAPERBOY_DB_PATH="+dbPath,
		"HF_EMBED_API_URL="+embedURL,
		"SUPABASE_URL=",
		"SUPABASE_KEY=",
		"DATABASE_URL=",
		"GEMINI_API_KEY=test-key",
		"ARXIV_BOT_TOKEN=aaa.bbb.ccc",
		"CHANNEL_ID=123456789",
		"MIN_IMPACT_SCORE=",
		"PAPERBOY_CONFIG=",
	)
}

// runPaperboy executes the paperboy binary and returns combined output.
func runPaperboy(t *testing.T, dir string, env []string, args ...string) (string, error) {
	t.Helper()
	bin := getPaperboyBinary(t)
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// seedPapers inserts two papers with orthogonal embeddings.
func seedPapers(t *testing.T, dbPath string) {
	t.Helper()
	st, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	papers := []*store.Paper{
		{
			ArxivID:     "2608.01001",
			Title:       "Sparse Attention at Scale",
			Abstract:    "We scale sparse attention to long contexts.",
			Authors:     []string{"R. Vaswani", "L. Chen"},
			Published:   now.Add(-24 * time.Hour),
			URL:         "https://arxiv.org/abs/2608.01001",
			ImpactScore: 8,
			Summary:     "Sparse attention kernels for million-token contexts.",
			Tags:        []string{"LLM", "Attention"},
			Embedding:   axisVector(0),
		},
		{
			ArxivID:     "2608.01002",
			Title:       "Database Sharding Notes",
			Abstract:    "A survey of sharding strategies.",
			Authors:     []string{"M. Stone"},
			Published:   now.Add(-48 * time.Hour),
			URL:         "https://arxiv.org/abs/2608.01002",
			ImpactScore: 6,
			Summary:     "Survey of sharding approaches.",
			Tags:        []string{"Databases"},
			Embedding:   axisVector(1),
		},
	}
	for _, p := range papers {
		if err := st.Insert(ctx, p); err != nil {
			t.Fatalf("seeding %s: %v", p.ArxivID, err)
		}
	}
}

func TestVersion(t *testing.T) {
	output, err := runPaperboy(t, t.TempDir(), os.Environ(), "version")
	if err != nil {
		t.Fatalf("version failed: %v\nOutput: %s", err, output)
	}

	var result struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if result.Version != "dev" {
		t.Errorf("expected version 'dev', got %q", result.Version)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "papers.db")
	seedPapers(t, dbPath)

	output, err := runPaperboy(t, dir, testEnv(dbPath, "http://127.0.0.1:1"), "latest")
	if err != nil {
		t.Fatalf("latest failed: %v\nOutput: %s", err, output)
	}

	var papers []struct {
		ArxivID string `json:"arxiv_id"`
	}
	if err := json.Unmarshal([]byte(output), &papers); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if len(papers) != 2 {
		t.Fatalf("expected 2 papers, got %d", len(papers))
	}
	if papers[0].ArxivID != "2608.01001" {
		t.Errorf("expected newest paper first, got %q", papers[0].ArxivID)
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "papers.db")
	seedPapers(t, dbPath)

	output, err := runPaperboy(t, dir, testEnv(dbPath, "http://127.0.0.1:1"), "stats")
	if err != nil {
		t.Fatalf("stats failed: %v\nOutput: %s", err, output)
	}

	var stats struct {
		Total    int     `json:"total"`
		Posted   int     `json:"posted"`
		AvgScore float64 `json:"avg_score"`
	}
	if err := json.Unmarshal([]byte(output), &stats); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.Posted != 0 {
		t.Errorf("expected posted 0, got %d", stats.Posted)
	}
	if stats.AvgScore != 7.0 {
		t.Errorf("expected avg score 7.0, got %v", stats.AvgScore)
	}
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "papers.db")
	seedPapers(t, dbPath)
	embed := startEmbedServer(t)

	output, err := runPaperboy(t, dir, testEnv(dbPath, embed.URL), "search", "sparse attention")
	if err != nil {
		t.Fatalf("search failed: %v\nOutput: %s", err, output)
	}

	var resp struct {
		Query   string `json:"query"`
		Results []struct {
			ArxivID    string  `json:"arxiv_id"`
			Similarity float64 `json:"similarity"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if resp.Query != "sparse attention" {
		t.Errorf("expected query echoed back, got %q", resp.Query)
	}
	// The query embeds on axis 0, so only the attention paper clears
	// the similarity threshold.
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d\nOutput: %s", len(resp.Results), output)
	}
	if resp.Results[0].ArxivID != "2608.01001" {
		t.Errorf("expected 2608.01001, got %q", resp.Results[0].ArxivID)
	}
	if resp.Results[0].Similarity < 0.9 {
		t.Errorf("expected similarity near 1.0, got %v", resp.Results[0].Similarity)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "papers.db")
	embed := startEmbedServer(t)

	output, err := runPaperboy(t, dir, testEnv(dbPath, embed.URL), "search", "anything")
	if err != nil {
		t.Fatalf("search on empty store failed: %v\nOutput: %s", err, output)
	}

	var resp struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected no results, got %d", len(resp.Results))
	}
}

func TestCheckAllProbesPass(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "papers.db")
	embed := startEmbedServer(t)

	output, err := runPaperboy(t, dir, testEnv(dbPath, embed.URL), "check")
	if err != nil {
		t.Fatalf("check failed: %v\nOutput: %s", err, output)
	}

	var report struct {
		Status string `json:"status"`
		Probes []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"probes"`
	}
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if report.Status != "ok" {
		t.Errorf("expected status ok, got %q\nOutput: %s", report.Status, output)
	}
	if len(report.Probes) != 5 {
		t.Errorf("expected 5 probes, got %d", len(report.Probes))
	}
	for _, p := range report.Probes {
		if !p.OK {
			t.Errorf("probe %q failed", p.Name)
		}
	}
}

func TestCheckFailsWhenUnconfigured(t *testing.T) {
	env := append(os.Environ(),
		"PAPERBOY_DB=",
		"PAPERBOY_DB_PATH=",
		"HF_EMBED_API_URL=",
		"SUPABASE_URL=",
		"SUPABASE_KEY=",
		"DATABASE_URL=",
		"GEMINI_API_KEY=",
		"ARXIV_BOT_TOKEN=",
		"CHANNEL_ID=",
		"MIN_IMPACT_SCORE=",
		"PAPERBOY_CONFIG=",
	)

	output, err := runPaperboy(t, t.TempDir(), env, "check")
	if err == nil {
		t.Fatalf("expected check to fail\nOutput: %s", output)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit error, got %v", err)
	}
	if code := exitErr.ExitCode(); code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}

	var report struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if report.Status != "failed" {
		t.Errorf("expected status failed, got %q", report.Status)
	}
}
