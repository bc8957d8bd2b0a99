// Package memory provides a process-local DocumentStore used by tests and by
// deployments that do not need pending actions to survive restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ex-warden/pkg/warden"
)

// Store keeps documents in nested maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	collections map[warden.Collection]map[string]warden.Document
	closed      bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		collections: make(map[warden.Collection]map[string]warden.Document),
	}
}

// Insert adds doc unless its key already exists.
func (s *Store) Insert(ctx context.Context, doc warden.Document) error {
	if err := s.guard(ctx, warden.StoreOperationInsert, doc.Collection, doc.Key); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("memory insert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	documents := s.collectionLocked(doc.Collection)
	if _, exists := documents[doc.Key]; exists {
		return warden.NewStoreError(warden.StoreOperationInsert, doc.Collection, doc.Key, warden.ErrDuplicateDocument)
	}
	documents[doc.Key] = cloneDocument(doc)

	return nil
}

// Find returns the document stored under key.
func (s *Store) Find(ctx context.Context, collection warden.Collection, key string) (warden.Document, bool, error) {
	if err := s.guard(ctx, warden.StoreOperationFind, collection, key); err != nil {
		return warden.Document{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.collections[collection][key]
	if !exists {
		return warden.Document{}, false, nil
	}

	return cloneDocument(doc), true, nil
}

// FindDue returns range-indexed documents due at or before cutoff, oldest first.
func (s *Store) FindDue(ctx context.Context, collection warden.Collection, cutoff time.Time) ([]warden.Document, error) {
	if err := s.guard(ctx, warden.StoreOperationFindDue, collection, ""); err != nil {
		return nil, err
	}

	s.mu.RLock()
	due := make([]warden.Document, 0)
	for _, doc := range s.collections[collection] {
		if doc.Due.IsZero() || doc.Due.After(cutoff) {
			continue
		}
		due = append(due, cloneDocument(doc))
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].Due.Equal(due[j].Due) {
			return due[i].Key < due[j].Key
		}
		return due[i].Due.Before(due[j].Due)
	})

	return due, nil
}

// Put overwrites or creates doc.
func (s *Store) Put(ctx context.Context, doc warden.Document) error {
	if err := s.guard(ctx, warden.StoreOperationPut, doc.Collection, doc.Key); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("memory put: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionLocked(doc.Collection)[doc.Key] = cloneDocument(doc)

	return nil
}

// Delete removes the document stored under key.
func (s *Store) Delete(ctx context.Context, collection warden.Collection, key string) (bool, error) {
	if err := s.guard(ctx, warden.StoreOperationDelete, collection, key); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	documents := s.collections[collection]
	if _, exists := documents[key]; !exists {
		return false, nil
	}
	delete(documents, key)

	return true, nil
}

// Len returns the number of documents stored in collection.
func (s *Store) Len(collection warden.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.collections[collection])
}

// Close marks the store closed. Later operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return nil
}

func (s *Store) guard(ctx context.Context, op warden.StoreOperation, collection warden.Collection, key string) error {
	if err := ctx.Err(); err != nil {
		return warden.NewStoreError(op, collection, key, err)
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return warden.NewStoreError(op, collection, key, fmt.Errorf("store closed"))
	}

	return nil
}

func (s *Store) collectionLocked(collection warden.Collection) map[string]warden.Document {
	documents, exists := s.collections[collection]
	if !exists {
		documents = make(map[string]warden.Document)
		s.collections[collection] = documents
	}

	return documents
}

func cloneDocument(doc warden.Document) warden.Document {
	cloned := doc
	cloned.Body = append([]byte(nil), doc.Body...)

	return cloned
}

var _ warden.DocumentStore = (*Store)(nil)
