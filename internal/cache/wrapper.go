package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ex-warden/pkg/warden"
)

// Wrapper is a loaded, mutable view of one stored document.
//
// Reads and writes of the snapshot are guarded so that Persist always
// serializes a consistent snapshot. Serializing logical edits across callers
// remains the caller's job.
type Wrapper[D any] struct {
	key        string
	kind       warden.EntityKind
	storeKey   string
	collection warden.Collection
	store      warden.DocumentStore
	base       func() D

	mu        sync.RWMutex
	doc       D
	persisted bool
}

func newWrapper[D any](
	key string,
	kind warden.EntityKind,
	storeKey string,
	collection warden.Collection,
	store warden.DocumentStore,
	base func() D,
	doc D,
	persisted bool,
) *Wrapper[D] {
	return &Wrapper[D]{
		key:        key,
		kind:       kind,
		storeKey:   storeKey,
		collection: collection,
		store:      store,
		base:       base,
		doc:        doc,
		persisted:  persisted,
	}
}

// Key returns the cache key of the entity.
func (w *Wrapper[D]) Key() string { return w.key }

// Kind returns the entity kind.
func (w *Wrapper[D]) Kind() warden.EntityKind { return w.kind }

// StoreKey returns the document key used in the store, which may be parent scoped.
func (w *Wrapper[D]) StoreKey() string { return w.storeKey }

// Persisted reports whether the snapshot is known to exist in the store.
func (w *Wrapper[D]) Persisted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.persisted
}

// View calls fn with the current snapshot under the read lock.
// fn must not retain references into maps or slices of the snapshot.
func (w *Wrapper[D]) View(fn func(D)) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	fn(w.doc)
}

// Mutate applies fn to the in-memory snapshot. The change is not stored until Persist.
func (w *Wrapper[D]) Mutate(fn func(*D)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn(&w.doc)
}

// Persist writes the full current snapshot to the store.
//
// Failures are returned as-is; callers retry transient store failures.
func (w *Wrapper[D]) Persist(ctx context.Context) error {
	w.mu.RLock()
	body, err := json.Marshal(w.doc)
	w.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("persist %s %s: marshal: %w", w.kind, w.key, err)
	}

	if err := w.store.Put(ctx, warden.Document{
		Collection: w.collection,
		Key:        w.storeKey,
		Body:       body,
	}); err != nil {
		return fmt.Errorf("persist %s %s: %w", w.kind, w.key, err)
	}

	w.mu.Lock()
	w.persisted = true
	w.mu.Unlock()

	return nil
}

// Reload replaces the snapshot with the stored document.
//
// It reports false and leaves the snapshot untouched when nothing is stored.
func (w *Wrapper[D]) Reload(ctx context.Context) (bool, error) {
	stored, found, err := w.store.Find(ctx, w.collection, w.storeKey)
	if err != nil {
		return false, fmt.Errorf("reload %s %s: %w", w.kind, w.key, err)
	}
	if !found {
		w.mu.Lock()
		w.persisted = false
		w.mu.Unlock()
		return false, nil
	}

	doc, err := decodeDocument(stored.Body, w.base)
	if err != nil {
		return false, fmt.Errorf("reload %s %s: %w", w.kind, w.key, err)
	}
	w.replace(doc, true)

	return true, nil
}

func (w *Wrapper[D]) replace(doc D, persisted bool) {
	w.mu.Lock()
	w.doc = doc
	w.persisted = persisted
	w.mu.Unlock()
}

func decodeDocument[D any](body json.RawMessage, base func() D) (D, error) {
	var doc D
	if base != nil {
		doc = base()
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		var zero D
		return zero, fmt.Errorf("decode document: %w", err)
	}

	return doc, nil
}
