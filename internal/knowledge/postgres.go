package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the knowledge corpus in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.seed(ctx, DefaultEntries()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// seed inserts the built-in corpus without overwriting edited rows.
func (s *PostgresStore) seed(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO knowledge_entries (id, content, keywords) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Content, e.Keywords,
		)
		if err != nil {
			return fmt.Errorf("seed knowledge entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	rows, err := s.pool.Query(ctx, `SELECT id, content, keywords FROM knowledge_entries ORDER BY created_at, id`)
	if err != nil {
		return "", fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Content, &e.Keywords); err != nil {
			return "", fmt.Errorf("scan knowledge row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate knowledge rows: %w", err)
	}
	return FormatAnswer(query, rank(query, entries)), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
