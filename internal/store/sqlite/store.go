// Package sqlite opens the embedded SQLite document store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ex-warden/internal/store/sqldoc"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "state/warden.db"

// Dialect is the SQLite flavour of the shared documents schema.
var Dialect = sqldoc.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Schema: []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			doc_key TEXT NOT NULL,
			due_unix_ms INTEGER NOT NULL DEFAULT 0,
			body TEXT NOT NULL,
			PRIMARY KEY (collection, doc_key)
		)`,
		`CREATE INDEX IF NOT EXISTS documents_due_idx ON documents (collection, due_unix_ms)`,
	},
}

// Open opens or creates the SQLite database at path.
func Open(ctx context.Context, path string) (*sqldoc.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create sqlite dirs: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	store, err := sqldoc.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}

	return store, nil
}
