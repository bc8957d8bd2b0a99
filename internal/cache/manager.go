package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"ex-warden/internal/metrics"
	"ex-warden/pkg/warden"
)

// FetchOptions tunes one Fetch call.
type FetchOptions struct {
	// Create synthesizes the default document when the store has none.
	Create bool
	// Reload bypasses the cached entry and refreshes it from the store.
	Reload bool
}

// Config describes one entity kind to a Manager.
type Config[D any, W warden.Resolved] struct {
	// Kind is the entity kind served by the manager.
	Kind warden.EntityKind
	// Collection holds the kind's documents.
	Collection warden.Collection
	// Store is the system of record.
	Store warden.DocumentStore
	// Accept lists other kinds whose references carry this kind's key.
	Accept []warden.EntityKind
	// StoreKey maps a cache key to its document key. Identity when nil.
	StoreKey func(key string) string
	// Default builds the template document for key.
	Default func(key string) D
	// Wrap builds the typed wrapper around a generic one.
	Wrap func(*Wrapper[D]) (W, error)
	// Exists optionally checks the live system before any store read.
	Exists func(ctx context.Context, key string) (bool, error)
	// Evict runs after an entry leaves the table.
	Evict func(W)
	// Logger receives cache diagnostics.
	Logger *slog.Logger
	// Metrics records hits, misses and store fetches.
	Metrics *metrics.Set
	// Clock stamps access times. time.Now when nil.
	Clock func() time.Time
}

// Manager is a keyed cache over one entity kind.
type Manager[D any, W warden.Resolved] struct {
	cfg Config[D, W]

	mu      sync.RWMutex
	entries map[string]*entry[D, W]
	flights singleflight.Group
}

type entry[D any, W any] struct {
	generic    *Wrapper[D]
	wrapper    W
	lastAccess atomic.Int64
}

type flightResult[W any] struct {
	wrapper W
	found   bool
	gone    bool
}

// NewManager validates cfg and builds an empty manager.
func NewManager[D any, W warden.Resolved](cfg Config[D, W]) (*Manager[D, W], error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("new cache manager: missing entity kind")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("new %s cache manager: missing collection", cfg.Kind)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("new %s cache manager: nil store", cfg.Kind)
	}
	if cfg.Default == nil {
		return nil, fmt.Errorf("new %s cache manager: nil default factory", cfg.Kind)
	}
	if cfg.Wrap == nil {
		return nil, fmt.Errorf("new %s cache manager: nil wrapper constructor", cfg.Kind)
	}
	if cfg.StoreKey == nil {
		cfg.StoreKey = func(key string) string { return key }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Manager[D, W]{
		cfg:     cfg,
		entries: make(map[string]*entry[D, W]),
	}, nil
}

// Kind returns the entity kind served by m.
func (m *Manager[D, W]) Kind() warden.EntityKind {
	return m.cfg.Kind
}

// ResolveID converts ref into this manager's key without any I/O.
func (m *Manager[D, W]) ResolveID(ref warden.Ref) (string, error) {
	return warden.ResolveKey(ref, m.cfg.Kind, m.cfg.Accept...)
}

// Get returns the cached wrapper for ref. It never performs I/O.
func (m *Manager[D, W]) Get(ref warden.Ref) (W, bool, error) {
	var zero W
	key, err := m.ResolveID(ref)
	if err != nil {
		return zero, false, err
	}

	wrapper, ok := m.lookup(key)
	return wrapper, ok, nil
}

// Fetch returns the wrapper for ref, loading it from the store on a miss.
//
// Concurrent fetches of one key share a single existence check and store read.
// A reload never joins a plain fetch already in flight. Canceling ctx only
// stops this caller from waiting; the shared load still completes.
// Absent entities are reported as (zero, false, nil) and are not cached.
func (m *Manager[D, W]) Fetch(ctx context.Context, ref warden.Ref, options FetchOptions) (W, bool, error) {
	var zero W
	key, err := m.ResolveID(ref)
	if err != nil {
		return zero, false, err
	}

	if !options.Reload {
		if wrapper, ok := m.lookup(key); ok {
			m.cfg.Metrics.CacheHit(string(m.cfg.Kind))
			return wrapper, true, nil
		}
	}
	m.cfg.Metrics.CacheMiss(string(m.cfg.Kind))

	// the flight outlives any one caller; a canceled caller stops waiting
	flightKey := key
	if options.Reload {
		flightKey = "reload:" + key
	}
	flightCtx := context.WithoutCancel(ctx)
	flight := m.flights.DoChan(flightKey, func() (any, error) {
		return m.load(flightCtx, key, options.Reload)
	})

	var shared singleflight.Result
	select {
	case <-ctx.Done():
		return zero, false, fmt.Errorf("fetch %s %s: %w", m.cfg.Kind, key, context.Cause(ctx))
	case shared = <-flight:
	}
	if shared.Err != nil {
		return zero, false, fmt.Errorf("fetch %s %s: %w", m.cfg.Kind, key, shared.Err)
	}

	result := shared.Val.(flightResult[W])
	if result.found {
		return result.wrapper, true, nil
	}
	if result.gone || !options.Create {
		return zero, false, nil
	}

	base := m.baseFor(key)
	wrapper, err := m.install(key, base(), false, false)
	if err != nil {
		return zero, false, fmt.Errorf("fetch %s %s: %w", m.cfg.Kind, key, err)
	}

	return wrapper, true, nil
}

// Resolve passes a wrapper of this kind straight through and otherwise
// delegates to Fetch (with creation) or Get.
func (m *Manager[D, W]) Resolve(ctx context.Context, ref warden.Ref, fetch bool) (W, bool, error) {
	if resolved, ok := ref.Resolved(); ok {
		if wrapper, ok := resolved.(W); ok {
			return wrapper, true, nil
		}
	}
	if fetch {
		return m.Fetch(ctx, ref, FetchOptions{Create: true})
	}

	return m.Get(ref)
}

// Remove evicts key from the table without touching the store.
func (m *Manager[D, W]) Remove(key string) bool {
	m.mu.Lock()
	removed, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()

	if ok && m.cfg.Evict != nil {
		m.cfg.Evict(removed.wrapper)
	}

	return ok
}

// Clear evicts every cached entry.
func (m *Manager[D, W]) Clear() {
	m.mu.Lock()
	removed := m.entries
	m.entries = make(map[string]*entry[D, W])
	m.mu.Unlock()

	if m.cfg.Evict == nil {
		return
	}
	for _, evicted := range removed {
		m.cfg.Evict(evicted.wrapper)
	}
}

// Delete removes the stored document for ref and evicts it.
func (m *Manager[D, W]) Delete(ctx context.Context, ref warden.Ref) (bool, error) {
	key, err := m.ResolveID(ref)
	if err != nil {
		return false, err
	}

	deleted, err := m.cfg.Store.Delete(ctx, m.cfg.Collection, m.cfg.StoreKey(key))
	if err != nil {
		m.cfg.Metrics.StoreFailure(string(warden.StoreOperationDelete))
		return false, fmt.Errorf("delete %s %s: %w", m.cfg.Kind, key, err)
	}
	m.Remove(key)

	return deleted, nil
}

// Len returns the number of cached entries.
func (m *Manager[D, W]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// LastAccess reports when the entry for ref was last handed out.
func (m *Manager[D, W]) LastAccess(ref warden.Ref) (time.Time, bool) {
	key, err := m.ResolveID(ref)
	if err != nil {
		return time.Time{}, false
	}

	m.mu.RLock()
	cached, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}

	return time.Unix(0, cached.lastAccess.Load()), true
}

// Range calls fn for every cached wrapper until fn returns false.
func (m *Manager[D, W]) Range(fn func(W) bool) {
	m.mu.RLock()
	wrappers := make([]W, 0, len(m.entries))
	for _, cached := range m.entries {
		wrappers = append(wrappers, cached.wrapper)
	}
	m.mu.RUnlock()

	for _, wrapper := range wrappers {
		if !fn(wrapper) {
			return
		}
	}
}

func (m *Manager[D, W]) lookup(key string) (W, bool) {
	m.mu.RLock()
	cached, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		var zero W
		return zero, false
	}
	cached.lastAccess.Store(m.cfg.Clock().UnixNano())

	return cached.wrapper, true
}

func (m *Manager[D, W]) load(ctx context.Context, key string, reload bool) (flightResult[W], error) {
	// a flight that finished just before this one started may already have cached key
	if !reload {
		if wrapper, ok := m.lookup(key); ok {
			return flightResult[W]{wrapper: wrapper, found: true}, nil
		}
	}

	if m.cfg.Exists != nil {
		exists, err := m.cfg.Exists(ctx, key)
		if err != nil {
			m.cfg.Logger.WarnContext(ctx,
				"cache existence check failed",
				"kind", m.cfg.Kind,
				"key", key,
				"error", err,
			)
		}
		if err != nil || !exists {
			if reload {
				m.Remove(key)
			}
			return flightResult[W]{gone: true}, nil
		}
	}

	m.cfg.Metrics.StoreFetch(string(m.cfg.Kind))
	stored, found, err := m.cfg.Store.Find(ctx, m.cfg.Collection, m.cfg.StoreKey(key))
	if err != nil {
		m.cfg.Metrics.StoreFailure(string(warden.StoreOperationFind))
		m.cfg.Logger.ErrorContext(ctx,
			"cache store read failed",
			"kind", m.cfg.Kind,
			"key", key,
			"transient", warden.IsTransientStoreFailure(err),
			"error", err,
		)
		return flightResult[W]{}, err
	}
	if !found {
		if reload {
			m.Remove(key)
		}
		return flightResult[W]{}, nil
	}

	base := m.baseFor(key)
	doc, err := decodeDocument(stored.Body, base)
	if err != nil {
		return flightResult[W]{}, err
	}

	wrapper, err := m.install(key, doc, true, reload)
	if err != nil {
		return flightResult[W]{}, err
	}

	return flightResult[W]{wrapper: wrapper, found: true}, nil
}

// install caches a wrapper for key and returns the instance held by the table.
// An existing entry wins unless replace is set, in which case its snapshot is
// swapped in place so handed-out wrappers stay valid.
func (m *Manager[D, W]) install(key string, doc D, persisted bool, replace bool) (W, error) {
	now := m.cfg.Clock().UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.entries[key]; ok {
		if replace {
			cached.generic.replace(doc, persisted)
		}
		cached.lastAccess.Store(now)
		return cached.wrapper, nil
	}

	generic := newWrapper(key, m.cfg.Kind, m.cfg.StoreKey(key), m.cfg.Collection, m.cfg.Store, m.baseFor(key), doc, persisted)
	wrapper, err := m.cfg.Wrap(generic)
	if err != nil {
		var zero W
		return zero, fmt.Errorf("wrap %s %s: %w", m.cfg.Kind, key, err)
	}
	cached := &entry[D, W]{generic: generic, wrapper: wrapper}
	cached.lastAccess.Store(now)
	m.entries[key] = cached

	return wrapper, nil
}

func (m *Manager[D, W]) baseFor(key string) func() D {
	return func() D { return m.cfg.Default(key) }
}
