// Package storage persists projects, chat, timeline, agent sessions,
// planning and audit rows for the gateway. SQLite is the embedded default;
// PostgreSQL is used when a DSN is configured. The schema is created from
// code at startup, there is no external migration tool.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agpstudio/agp/internal/db"
)

// maxParamsPerChunk caps IN(...) expansions below the driver's
// bind-parameter limit.
const maxParamsPerChunk = 900

// Repository provides database-backed storage operations for all gateway
// entities.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool)
	pool   *db.Pool
	ownsDB bool
}

// New opens the configured database and creates a repository that owns the
// connections.
func New(driver, sqlitePath, postgresDSN string) (*Repository, error) {
	pool, err := db.Open(driver, sqlitePath, postgresDSN)
	if err != nil {
		return nil, err
	}
	return newRepository(pool, true)
}

// NewWithPool creates a repository on an existing connection pool (shared
// ownership).
func NewWithPool(pool *db.Pool) (*Repository, error) {
	return newRepository(pool, false)
}

func newRepository(pool *db.Pool, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: pool.Writer(), ro: pool.Reader(), pool: pool, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := pool.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connections
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.pool.Close()
}

func (r *Repository) driver() string {
	return r.db.DriverName()
}

// chunkIDs splits ids into slices of at most size entries.
func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func txSelectIDs(ctx context.Context, tx *sqlx.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// txDeleteIn expands the IN (?) placeholder to the given ids and executes
// the delete. Callers chunk the ids to stay under maxParamsPerChunk.
func txDeleteIn(ctx context.Context, tx *sqlx.Tx, query string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(expanded), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
