package warden

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidReference indicates a reference that carries no derivable identity key.
	ErrInvalidReference = errors.New("warden: invalid reference")
	// ErrPermissionDenied indicates the acting principal lacks a live-system permission.
	ErrPermissionDenied = errors.New("warden: live system permission denied")
	// ErrLiveSystemUnreachable indicates the live system connection is not established.
	ErrLiveSystemUnreachable = errors.New("warden: live system unreachable")
	// ErrDuplicateDocument indicates an insert collided with an existing document key.
	ErrDuplicateDocument = errors.New("warden: duplicate document")
	// ErrInvalidAction indicates a pending action that does not satisfy its invariants.
	ErrInvalidAction = errors.New("warden: invalid pending action")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("warden: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("warden: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("warden: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("warden: driver already registered")
)

// StoreOperation identifies one persistent store operation.
type StoreOperation string

const (
	// StoreOperationInsert identifies insert-one operations.
	StoreOperationInsert StoreOperation = "insert"
	// StoreOperationFind identifies find-by-key operations.
	StoreOperationFind StoreOperation = "find"
	// StoreOperationFindDue identifies due-range queries.
	StoreOperationFindDue StoreOperation = "find_due"
	// StoreOperationPut identifies overwrite-by-key operations.
	StoreOperationPut StoreOperation = "put"
	// StoreOperationDelete identifies delete-by-identity operations.
	StoreOperationDelete StoreOperation = "delete"
)

// StoreError carries structured metadata for one failed store round-trip.
//
// Store backends wrap driver and network failures in StoreError so callers can
// tell a transient store failure apart from a decode bug or a caller error.
// The cache layer never retries them.
type StoreError struct {
	// Op identifies which store operation failed.
	Op StoreOperation
	// Collection identifies the targeted collection.
	Collection Collection
	// Key identifies the targeted document when the operation is key-scoped.
	Key string
	// Cause is the wrapped driver error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 3)
	if op := strings.TrimSpace(string(e.Op)); op != "" {
		fields = append(fields, "op="+op)
	}
	if collection := strings.TrimSpace(string(e.Collection)); collection != "" {
		fields = append(fields, "collection="+collection)
	}
	if key := strings.TrimSpace(e.Key); key != "" {
		fields = append(fields, "key="+key)
	}

	summary := "store error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// NewStoreError wraps cause as a transient store failure. A nil cause yields nil.
func NewStoreError(op StoreOperation, collection Collection, key string, cause error) error {
	if cause == nil {
		return nil
	}

	return &StoreError{Op: op, Collection: collection, Key: key, Cause: cause}
}

// AsStoreError extracts one StoreError from wrapped error chains.
func AsStoreError(err error) (*StoreError, bool) {
	if err == nil {
		return nil, false
	}

	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr, true
	}

	return nil, false
}

// IsTransientStoreFailure reports whether err is a store round-trip failure
// rather than a duplicate key or a caller-side cancellation.
func IsTransientStoreFailure(err error) bool {
	storeErr, ok := AsStoreError(err)
	if !ok {
		return false
	}
	if errors.Is(storeErr.Cause, ErrDuplicateDocument) {
		return false
	}

	return !errors.Is(storeErr.Cause, context.Canceled)
}

// UserFacingMessage is the reply command handlers send when entity resolution fails.
const UserFacingMessage = "Oops, something went wrong. Please try again later."

// DescribeForUser renders err for a chat reply. Details stay in logs.
func DescribeForUser(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "I am missing the permissions needed to do that."
	default:
		return UserFacingMessage
	}
}
