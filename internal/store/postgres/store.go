// Package postgres opens the Postgres document store through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"ex-warden/internal/store/sqldoc"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/warden?sslmode=disable"
)

// Dialect is the Postgres flavour of the shared documents schema.
var Dialect = sqldoc.Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			doc_key TEXT NOT NULL,
			due_unix_ms BIGINT NOT NULL DEFAULT 0,
			body TEXT NOT NULL,
			PRIMARY KEY (collection, doc_key)
		)`,
		`CREATE INDEX IF NOT EXISTS documents_due_idx ON documents (collection, due_unix_ms)`,
	},
}

// Open connects to dsn (falls back to defaultDSN), pings it and applies the schema.
func Open(ctx context.Context, dsn string) (*sqldoc.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store, err := sqldoc.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	return store, nil
}
