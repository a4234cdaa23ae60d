package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Pool provides separate read and write database connections.
//
// For SQLite with WAL mode, this enables concurrent reads while serializing
// writes through a single connection. For PostgreSQL, both Writer and Reader
// return the same *sqlx.DB since pgx pools internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Open creates a Pool for the configured driver. SQLite gets a single-writer
// plus reader-pool pair; Postgres shares one pool for both roles.
func Open(driver, sqlitePath, postgresDSN string) (*Pool, error) {
	switch driver {
	case "sqlite3", "":
		writer, err := OpenSQLite(sqlitePath)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(sqlitePath)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(writer, reader), nil
	case "pgx":
		conn, err := OpenPostgres(postgresDSN, 0, 0)
		if err != nil {
			return nil, err
		}
		return NewPool(conn, conn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Writer returns the connection pool used for INSERT, UPDATE, DELETE, and
// transactions. For SQLite this is limited to a single connection.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	// Avoid double-close when both pools share the same *sqlx.DB (Postgres).
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
