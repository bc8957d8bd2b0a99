// Package sqldoc implements warden.DocumentStore on top of database/sql.
//
// Every collection shares one documents table. The due column holds Unix
// milliseconds and is zero for documents that are not range-indexed.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ex-warden/pkg/warden"
)

// Dialect captures the SQL differences between supported backends.
type Dialect struct {
	// Name identifies the backend in logs and errors.
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Schema lists idempotent DDL statements applied on open.
	Schema []string
}

// Store is a database/sql backed document store.
type Store struct {
	db      *sql.DB
	dialect Dialect

	insertQuery  string
	findQuery    string
	findDueQuery string
	putQuery     string
	deleteQuery  string
}

// New applies the dialect schema to db and prepares query text.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("new sql document store: nil db")
	}
	if dialect.Placeholder == nil {
		return nil, fmt.Errorf("new sql document store %s: nil placeholder func", dialect.Name)
	}

	for _, statement := range dialect.Schema {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", dialect.Name, err)
		}
	}

	p := dialect.Placeholder
	return &Store{
		db:      db,
		dialect: dialect,
		insertQuery: fmt.Sprintf(
			`INSERT INTO documents (collection, doc_key, due_unix_ms, body) VALUES (%s, %s, %s, %s)
			ON CONFLICT (collection, doc_key) DO NOTHING`,
			p(1), p(2), p(3), p(4),
		),
		findQuery: fmt.Sprintf(
			`SELECT due_unix_ms, body FROM documents WHERE collection = %s AND doc_key = %s`,
			p(1), p(2),
		),
		findDueQuery: fmt.Sprintf(
			`SELECT doc_key, due_unix_ms, body FROM documents
			WHERE collection = %s AND due_unix_ms > 0 AND due_unix_ms <= %s
			ORDER BY due_unix_ms, doc_key`,
			p(1), p(2),
		),
		putQuery: fmt.Sprintf(
			`INSERT INTO documents (collection, doc_key, due_unix_ms, body) VALUES (%s, %s, %s, %s)
			ON CONFLICT (collection, doc_key) DO UPDATE SET due_unix_ms = excluded.due_unix_ms, body = excluded.body`,
			p(1), p(2), p(3), p(4),
		),
		deleteQuery: fmt.Sprintf(
			`DELETE FROM documents WHERE collection = %s AND doc_key = %s`,
			p(1), p(2),
		),
	}, nil
}

// Insert adds doc unless its key already exists.
func (s *Store) Insert(ctx context.Context, doc warden.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%s insert: %w", s.dialect.Name, err)
	}

	result, err := s.db.ExecContext(ctx, s.insertQuery, string(doc.Collection), doc.Key, dueColumn(doc.Due), string(doc.Body))
	if err != nil {
		return warden.NewStoreError(warden.StoreOperationInsert, doc.Collection, doc.Key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return warden.NewStoreError(warden.StoreOperationInsert, doc.Collection, doc.Key, err)
	}
	if affected == 0 {
		return warden.NewStoreError(warden.StoreOperationInsert, doc.Collection, doc.Key, warden.ErrDuplicateDocument)
	}

	return nil
}

// Find returns the document stored under key.
func (s *Store) Find(ctx context.Context, collection warden.Collection, key string) (warden.Document, bool, error) {
	var (
		due  int64
		body string
	)
	err := s.db.QueryRowContext(ctx, s.findQuery, string(collection), key).Scan(&due, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return warden.Document{}, false, nil
	}
	if err != nil {
		return warden.Document{}, false, warden.NewStoreError(warden.StoreOperationFind, collection, key, err)
	}

	return warden.Document{
		Collection: collection,
		Key:        key,
		Due:        dueTime(due),
		Body:       json.RawMessage(body),
	}, true, nil
}

// FindDue returns range-indexed documents due at or before cutoff, oldest first.
func (s *Store) FindDue(ctx context.Context, collection warden.Collection, cutoff time.Time) ([]warden.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.findDueQuery, string(collection), cutoff.UnixMilli())
	if err != nil {
		return nil, warden.NewStoreError(warden.StoreOperationFindDue, collection, "", err)
	}
	defer func() { _ = rows.Close() }()

	documents := make([]warden.Document, 0)
	for rows.Next() {
		var (
			key  string
			due  int64
			body string
		)
		if err := rows.Scan(&key, &due, &body); err != nil {
			return nil, warden.NewStoreError(warden.StoreOperationFindDue, collection, "", fmt.Errorf("scan: %w", err))
		}
		documents = append(documents, warden.Document{
			Collection: collection,
			Key:        key,
			Due:        dueTime(due),
			Body:       json.RawMessage(body),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, warden.NewStoreError(warden.StoreOperationFindDue, collection, "", err)
	}

	return documents, nil
}

// Put overwrites or creates doc.
func (s *Store) Put(ctx context.Context, doc warden.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%s put: %w", s.dialect.Name, err)
	}

	if _, err := s.db.ExecContext(ctx, s.putQuery, string(doc.Collection), doc.Key, dueColumn(doc.Due), string(doc.Body)); err != nil {
		return warden.NewStoreError(warden.StoreOperationPut, doc.Collection, doc.Key, err)
	}

	return nil
}

// Delete removes the document stored under key.
func (s *Store) Delete(ctx context.Context, collection warden.Collection, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.deleteQuery, string(collection), key)
	if err != nil {
		return false, warden.NewStoreError(warden.StoreOperationDelete, collection, key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, warden.NewStoreError(warden.StoreOperationDelete, collection, key, err)
	}

	return affected > 0, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s store: %w", s.dialect.Name, err)
	}

	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// dueColumn rounds up to the next millisecond so a cutoff truncated to
// milliseconds never selects a document due after it.
func dueColumn(due time.Time) int64 {
	if due.IsZero() {
		return 0
	}

	millis := due.UnixMilli()
	if due.After(time.UnixMilli(millis)) {
		millis++
	}

	return millis
}

func dueTime(column int64) time.Time {
	if column <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(column).UTC()
}

var _ warden.DocumentStore = (*Store)(nil)
