package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	pgTable        = "arxiv_papers"
	pgEmbeddingDim = 384

	// SQLSTATE for unique constraint violations.
	pgUniqueViolation = "23505"
)

var pgColumns = []string{
	"arxiv_id", "title", "abstract", "authors", "published_at", "url",
	"impact_score", "summary", "tags", "posted_to_discord", "posted_at",
}

// Postgres is the self-hosted backend: pgx pool, pgvector for similarity,
// Postgres full-text search for the lexical fallback.
type Postgres struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to the database and ensures the schema exists.
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	p := &Postgres{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			arxiv_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			abstract TEXT NOT NULL DEFAULT '',
			authors TEXT[] NOT NULL DEFAULT '{}',
			published_at TIMESTAMPTZ NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			impact_score INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			embedding vector(%d),
			posted_to_discord BOOLEAN NOT NULL DEFAULT FALSE,
			posted_at TIMESTAMPTZ
		)`, pgTable, pgEmbeddingDim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = 100)`, pgTable, pgTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_fulltext_idx
			ON %s USING gin (to_tsvector('english', title || ' ' || abstract))`, pgTable, pgTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_unposted_idx
			ON %s (posted_to_discord, impact_score)`, pgTable, pgTable),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Insert persists a new paper, returning ErrDuplicate on a unique
// constraint violation.
func (p *Postgres) Insert(ctx context.Context, paper *Paper) error {
	var emb interface{}
	if len(paper.Embedding) > 0 {
		emb = pgvector.NewVector(paper.Embedding)
	}

	query, args, err := p.sb.Insert(pgTable).
		Columns("arxiv_id", "title", "abstract", "authors", "published_at", "url",
			"impact_score", "summary", "tags", "embedding", "posted_to_discord", "posted_at").
		Values(paper.ArxivID, paper.Title, paper.Abstract, paper.Authors, paper.Published,
			paper.URL, paper.ImpactScore, paper.Summary, paper.Tags, emb,
			paper.Posted, paper.PostedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting paper %s: %w", paper.ArxivID, err)
	}
	return nil
}

// Exists reports whether a paper with the given arxiv id is persisted.
func (p *Postgres) Exists(ctx context.Context, arxivID string) (bool, error) {
	query, args, err := p.sb.Select("1").From(pgTable).
		Where(sq.Eq{"arxiv_id": arxivID}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}

	var one int
	err = p.pool.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking existence of %s: %w", arxivID, err)
	}
	return true, nil
}

// Match runs a cosine similarity search through pgvector.
func (p *Postgres) Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]Match, error) {
	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`, strings.Join(pgColumns, ", "), pgTable)

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("matching papers: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := scanPG(rows, &m.Paper, &m.Similarity); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// SearchText runs a websearch-style full-text query over title and abstract.
func (p *Postgres) SearchText(ctx context.Context, query string, limit int) ([]Paper, error) {
	stmt := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE to_tsvector('english', title || ' ' || abstract) @@ websearch_to_tsquery('english', $1)
		ORDER BY ts_rank(to_tsvector('english', title || ' ' || abstract),
			websearch_to_tsquery('english', $1)) DESC
		LIMIT $2`, strings.Join(pgColumns, ", "), pgTable)

	rows, err := p.pool.Query(ctx, stmt, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching papers: %w", err)
	}
	defer rows.Close()

	return collectPG(rows)
}

// Unposted returns papers awaiting delivery with at least minScore, best first.
func (p *Postgres) Unposted(ctx context.Context, minScore int) ([]Paper, error) {
	query, args, err := p.sb.Select(pgColumns...).From(pgTable).
		Where(sq.Eq{"posted_to_discord": false}).
		Where(sq.GtOrEq{"impact_score": minScore}).
		OrderBy("impact_score DESC", "published_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing unposted: %w", err)
	}
	defer rows.Close()

	return collectPG(rows)
}

// MarkPosted flips the posted flag and records the delivery time.
func (p *Postgres) MarkPosted(ctx context.Context, arxivID string, at time.Time) error {
	query, args, err := p.sb.Update(pgTable).
		Set("posted_to_discord", true).
		Set("posted_at", at).
		Where(sq.Eq{"arxiv_id": arxivID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("marking %s posted: %w", arxivID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns papers ordered by publication date descending.
func (p *Postgres) List(ctx context.Context, limit, offset int) ([]Paper, error) {
	query, args, err := p.sb.Select(pgColumns...).From(pgTable).
		OrderBy("published_at DESC").
		Limit(uint64(limit)).Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	return collectPG(rows)
}

// UpdateEmbedding replaces a paper's embedding.
func (p *Postgres) UpdateEmbedding(ctx context.Context, arxivID string, embedding []float32) error {
	query, args, err := p.sb.Update(pgTable).
		Set("embedding", pgvector.NewVector(embedding)).
		Where(sq.Eq{"arxiv_id": arxivID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", arxivID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns corpus totals.
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE posted_to_discord),
			COUNT(*) FILTER (WHERE published_at >= now() - interval '7 days'),
			COALESCE(AVG(impact_score), 0)::float8
		FROM %s`, pgTable)).Scan(&st.Total, &st.Posted, &st.LastWeek, &st.AvgScore)
	if err != nil {
		return nil, fmt.Errorf("counting papers: %w", err)
	}
	return &st, nil
}

// scanPG reads one row in pgColumns order, plus any trailing extras.
func scanPG(rows pgx.Rows, p *Paper, extras ...interface{}) error {
	dest := []interface{}{
		&p.ArxivID, &p.Title, &p.Abstract, &p.Authors, &p.Published, &p.URL,
		&p.ImpactScore, &p.Summary, &p.Tags, &p.Posted, &p.PostedAt,
	}
	dest = append(dest, extras...)
	return rows.Scan(dest...)
}

func collectPG(rows pgx.Rows) ([]Paper, error) {
	var papers []Paper
	for rows.Next() {
		var p Paper
		if err := scanPG(rows, &p); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}
