package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded backend. Vector search scans candidate rows and
// ranks them with in-process cosine similarity, which is fine at the scale
// of a daily paper feed.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// selectColumns is the field list for reads. The embedding column is
// fetched only where a method needs it.
const selectColumns = `arxiv_id, title, abstract, authors_json, published_at, url,
	impact_score, summary, tags_json, posted_to_discord, posted_at`

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			arxiv_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			abstract TEXT NOT NULL DEFAULT '',
			authors_json TEXT NOT NULL DEFAULT '[]',
			published_at TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			impact_score INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL DEFAULT '[]',
			embedding BLOB,
			posted_to_discord INTEGER NOT NULL DEFAULT 0,
			posted_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_papers_published ON papers(published_at);
		CREATE INDEX IF NOT EXISTS idx_papers_unposted ON papers(posted_to_discord, impact_score);

		-- Full-text search virtual table (standalone, not external content)
		CREATE VIRTUAL TABLE IF NOT EXISTS papers_fts USING fts5(
			arxiv_id,
			title,
			abstract
		);
	`

	_, err := db.Exec(schema)
	return err
}

// Insert persists a new paper, returning ErrDuplicate if the arxiv id is
// already present.
func (s *SQLite) Insert(ctx context.Context, p *Paper) error {
	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors: %w", err)
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO papers (
			arxiv_id, title, abstract, authors_json, published_at, url,
			impact_score, summary, tags_json, embedding, posted_to_discord, posted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ArxivID, p.Title, p.Abstract, string(authorsJSON), formatTime(p.Published), p.URL,
		p.ImpactScore, p.Summary, string(tagsJSON), encodeEmbedding(p.Embedding),
		boolToInt(p.Posted), nullableTime(p.PostedAt))
	if err != nil {
		return fmt.Errorf("inserting paper %s: %w", p.ArxivID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert result: %w", err)
	}
	if affected == 0 {
		return ErrDuplicate
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO papers_fts (arxiv_id, title, abstract) VALUES (?, ?, ?)
	`, p.ArxivID, p.Title, p.Abstract); err != nil {
		return fmt.Errorf("inserting fts for %s: %w", p.ArxivID, err)
	}

	return tx.Commit()
}

// Exists reports whether a paper with the given arxiv id is persisted.
func (s *SQLite) Exists(ctx context.Context, arxivID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM papers WHERE arxiv_id = ? LIMIT 1`, arxivID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking existence of %s: %w", arxivID, err)
	}
	return true, nil
}

// Match ranks stored papers by cosine similarity to the query embedding.
func (s *SQLite) Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+`, embedding FROM papers WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var blob []byte
		p, err := scanPaper(rows, &blob)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(embedding, decodeEmbedding(blob))
		if sim >= threshold {
			matches = append(matches, Match{Paper: *p, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// SearchText performs a ranked full-text search over title and abstract.
func (s *SQLite) SearchText(ctx context.Context, query string, limit int) ([]Paper, error) {
	ftsQuery := prepareFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM papers
		JOIN (
			SELECT arxiv_id, rank FROM papers_fts WHERE papers_fts MATCH ? ORDER BY rank LIMIT ?
		) matched USING (arxiv_id)
		ORDER BY matched.rank`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	return scanPapers(rows)
}

// Unposted returns papers awaiting delivery with at least minScore, best first.
func (s *SQLite) Unposted(ctx context.Context, minScore int) ([]Paper, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM papers
		WHERE posted_to_discord = 0 AND impact_score >= ?
		ORDER BY impact_score DESC, published_at ASC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("listing unposted: %w", err)
	}
	defer rows.Close()

	return scanPapers(rows)
}

// MarkPosted flips the posted flag and records the delivery time.
func (s *SQLite) MarkPosted(ctx context.Context, arxivID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE papers SET posted_to_discord = 1, posted_at = ? WHERE arxiv_id = ?
	`, formatTime(at), arxivID)
	if err != nil {
		return fmt.Errorf("marking %s posted: %w", arxivID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns papers ordered by publication date descending.
func (s *SQLite) List(ctx context.Context, limit, offset int) ([]Paper, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM papers
		ORDER BY published_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	return scanPapers(rows)
}

// UpdateEmbedding replaces a paper's embedding.
func (s *SQLite) UpdateEmbedding(ctx context.Context, arxivID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE papers SET embedding = ? WHERE arxiv_id = ?`,
		encodeEmbedding(embedding), arxivID)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", arxivID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns corpus totals.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(posted_to_discord), 0), COALESCE(AVG(impact_score), 0)
		FROM papers`).Scan(&st.Total, &st.Posted, &st.AvgScore)
	if err != nil {
		return nil, fmt.Errorf("counting papers: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -7)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM papers WHERE published_at >= ?`,
		formatTime(cutoff)).Scan(&st.LastWeek)
	if err != nil {
		return nil, fmt.Errorf("counting recent papers: %w", err)
	}

	return &st, nil
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPaper reads one row in selectColumns order. When embBlob is non-nil
// the row is expected to carry a trailing embedding column.
func scanPaper(s scanner, embBlob *[]byte) (*Paper, error) {
	var p Paper
	var authorsJSON, tagsJSON, published string
	var postedAt sql.NullString
	var posted int

	dest := []interface{}{
		&p.ArxivID, &p.Title, &p.Abstract, &authorsJSON, &published, &p.URL,
		&p.ImpactScore, &p.Summary, &tagsJSON, &posted, &postedAt,
	}
	if embBlob != nil {
		dest = append(dest, embBlob)
	}

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
		return nil, fmt.Errorf("parsing authors JSON for %s: %w", p.ArxivID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return nil, fmt.Errorf("parsing tags JSON for %s: %w", p.ArxivID, err)
	}

	t, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return nil, fmt.Errorf("parsing published_at for %s: %w", p.ArxivID, err)
	}
	p.Published = t
	p.Posted = posted != 0

	if postedAt.Valid && postedAt.String != "" {
		t, err := time.Parse(time.RFC3339, postedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing posted_at for %s: %w", p.ArxivID, err)
		}
		p.PostedAt = &t
	}

	return &p, nil
}

func scanPapers(rows *sql.Rows) ([]Paper, error) {
	var papers []Paper
	for rows.Next() {
		p, err := scanPaper(rows, nil)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// prepareFTSQuery escapes special characters for FTS5 queries.
func prepareFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}

	// If query contains special chars, quote it
	if strings.ContainsAny(query, "\"*+-:(){}[]^~") {
		query = strings.ReplaceAll(query, "\"", "\"\"")
		return "\"" + query + "\""
	}

	return query
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched or empty inputs.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denominator := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denominator == 0 {
		return 0
	}

	return float64(dot / denominator)
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
// A nil or empty vector encodes as NULL.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
