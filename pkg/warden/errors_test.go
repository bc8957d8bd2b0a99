package warden

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStoreErrorClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := fmt.Errorf("fetch guild: %w", NewStoreError(StoreOperationFind, CollectionGuilds, "1", cause))

	storeErr, ok := AsStoreError(err)
	if !ok {
		t.Fatal("expected store error in chain")
	}
	if storeErr.Op != StoreOperationFind {
		t.Fatalf("op = %s, want %s", storeErr.Op, StoreOperationFind)
	}
	if !errors.Is(err, cause) {
		t.Fatal("store error must unwrap to cause")
	}
	if !IsTransientStoreFailure(err) {
		t.Fatal("expected transient store failure")
	}
	if !strings.Contains(err.Error(), "collection=guilds") {
		t.Fatalf("error text = %q", err.Error())
	}

	duplicate := NewStoreError(StoreOperationInsert, CollectionPendingActions, "a", ErrDuplicateDocument)
	if IsTransientStoreFailure(duplicate) {
		t.Fatal("duplicate key must not be transient")
	}
	canceled := NewStoreError(StoreOperationFind, CollectionUsers, "2", context.Canceled)
	if IsTransientStoreFailure(canceled) {
		t.Fatal("cancellation must not be transient")
	}
	if NewStoreError(StoreOperationPut, CollectionUsers, "2", nil) != nil {
		t.Fatal("nil cause must yield nil error")
	}
}

func TestDescribeForUser(t *testing.T) {
	t.Parallel()

	if got := DescribeForUser(nil); got != "" {
		t.Fatalf("nil error message = %q", got)
	}
	if got := DescribeForUser(errors.New("boom")); got != UserFacingMessage {
		t.Fatalf("generic message = %q", got)
	}
	denied := fmt.Errorf("unban: %w", ErrPermissionDenied)
	if got := DescribeForUser(denied); got == UserFacingMessage {
		t.Fatal("permission errors get a dedicated message")
	}
}
