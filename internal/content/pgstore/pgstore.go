// Package pgstore implements [content.Store] on PostgreSQL with a pgvector
// index over item embeddings.
//
// Expected schema:
//
//	CREATE TABLE content_items (
//	    id        TEXT PRIMARY KEY,
//	    domain    TEXT NOT NULL,
//	    title     TEXT NOT NULL,
//	    filename  TEXT NOT NULL,
//	    category  TEXT NOT NULL DEFAULT '',
//	    embedding vector(1536)
//	);
//	CREATE INDEX ON content_items USING hnsw (embedding vector_cosine_ops);
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/k811069/Bunny-serve-sub001/internal/content"
	"github.com/k811069/Bunny-serve-sub001/pkg/provider/embeddings"
)

// Store answers content queries from a content_items table. Search embeds the
// query text through the injected embeddings provider and ranks by cosine
// distance. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	log      *slog.Logger
}

var _ content.Store = (*Store)(nil)

// New creates a Store over the given pool and embeddings provider.
func New(pool *pgxpool.Pool, embedder embeddings.Provider, log *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	if embedder == nil {
		return nil, errors.New("pgstore: nil embeddings provider")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, log: log}, nil
}

// SearchByQuery implements [content.Store]. A query that matches nothing
// returns an empty slice; the warning is logged here so callers can treat
// the empty result as a normal outcome.
func (s *Store) SearchByQuery(ctx context.Context, domain, query, categoryFilter string, limit int) ([]content.RawResult, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec), domain}
	where := "domain = $2"
	if categoryFilter != "" {
		args = append(args, categoryFilter)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT title, filename, category, embedding <=> $1 AS distance
		FROM   content_items
		WHERE  %s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search %s: %w", domain, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (content.RawResult, error) {
		var r content.RawResult
		err := row.Scan(&r.Title, &r.Filename, &r.Category, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: collect %s results: %w", domain, err)
	}
	if len(results) == 0 {
		s.log.Warn("content search matched nothing",
			"domain", domain,
			"query", query,
			"category", categoryFilter)
	}
	return results, nil
}

// RandomItem implements [content.Store].
func (s *Store) RandomItem(ctx context.Context, domain, categoryFilter string) (content.RawResult, bool, error) {
	args := []any{domain}
	where := "domain = $1"
	if categoryFilter != "" {
		args = append(args, categoryFilter)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	q := fmt.Sprintf(`
		SELECT title, filename, category
		FROM   content_items
		WHERE  %s
		ORDER  BY random()
		LIMIT  1`, where)

	var r content.RawResult
	err := s.pool.QueryRow(ctx, q, args...).Scan(&r.Title, &r.Filename, &r.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return content.RawResult{}, false, nil
	}
	if err != nil {
		return content.RawResult{}, false, fmt.Errorf("pgstore: random %s item: %w", domain, err)
	}
	return r, true, nil
}

// ListCategories implements [content.Store].
func (s *Store) ListCategories(ctx context.Context, domain string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT category
		FROM   content_items
		WHERE  domain = $1 AND category <> ''
		ORDER  BY category`, domain)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list %s categories: %w", domain, err)
	}
	categories, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgstore: collect %s categories: %w", domain, err)
	}
	return categories, nil
}
