package warden

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ServiceDocumentStore is the canonical service registry key for the persistent store.
const ServiceDocumentStore = "warden.document_store"

// Collection names one document collection in the persistent store.
type Collection string

const (
	// CollectionGuilds stores guild documents keyed by guild id.
	CollectionGuilds Collection = "guilds"
	// CollectionUsers stores user documents keyed by user id.
	CollectionUsers Collection = "users"
	// CollectionGuildMembers stores member documents keyed by "<guild>:<user>".
	CollectionGuildMembers Collection = "guild_members"
	// CollectionPendingActions stores scheduled side effects keyed by action id.
	CollectionPendingActions Collection = "pending_actions"
)

// Document is one stored record.
type Document struct {
	// Collection scopes Key.
	Collection Collection
	// Key is unique within Collection.
	Key string
	// Due is the indexed timestamp used by FindDue. Zero means not range-indexed.
	Due time.Time
	// Body is the JSON-encoded document payload.
	Body json.RawMessage
}

// Validate checks that mandatory document fields are present.
func (d Document) Validate() error {
	if d.Collection == "" {
		return fmt.Errorf("validate document: missing collection")
	}
	if d.Key == "" {
		return fmt.Errorf("validate document: missing key")
	}
	if len(d.Body) == 0 {
		return fmt.Errorf("validate document %s/%s: empty body", d.Collection, d.Key)
	}
	if !json.Valid(d.Body) {
		return fmt.Errorf("validate document %s/%s: body is not valid json", d.Collection, d.Key)
	}

	return nil
}

// DocumentStore is the collection-scoped persistent store.
//
// It is the system of record for entities and pending actions. Implementations
// wrap round-trip failures in *StoreError and must be safe for concurrent use.
// No multi-document atomicity is required.
type DocumentStore interface {
	// Insert adds a new document. It fails with ErrDuplicateDocument when the key exists.
	Insert(ctx context.Context, doc Document) error
	// Find returns the document stored under key.
	//
	// When no document exists, found is false and err is nil.
	Find(ctx context.Context, collection Collection, key string) (doc Document, found bool, err error)
	// FindDue returns documents whose non-zero Due is at or before cutoff, oldest first.
	FindDue(ctx context.Context, collection Collection, cutoff time.Time) ([]Document, error)
	// Put overwrites or creates the document stored under doc.Key.
	Put(ctx context.Context, doc Document) error
	// Delete removes the document stored under key and reports whether one existed.
	Delete(ctx context.Context, collection Collection, key string) (bool, error)
	// Close releases the store connection.
	Close() error
}
