// Package sqlite provides common SQLite utility functions.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// BoolToInt converts a boolean to an integer (for SQLite).
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// ColumnExists checks if a column exists in a table.
func ColumnExists(db *sqlx.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
