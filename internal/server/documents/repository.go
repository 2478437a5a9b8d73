// Package documents stores client documents in Postgres as JSONB, scoped by
// owner and collection.
package documents

import (
	"context"
)

// Repository is the persistence contract of the document server.
type Repository interface {
	// Create inserts the document unless (owner, collection, id) exists.
	// It reports whether a row was inserted.
	Create(ctx context.Context, owner, collection, id string, data []byte) (bool, error)
	// Get returns common.ErrorNotFound when absent.
	Get(ctx context.Context, owner, collection, id string) ([]byte, error)
	// Merge shallow-merges patch into the document, inserting it if absent.
	Merge(ctx context.Context, owner, collection, id string, patch []byte) error
	Delete(ctx context.Context, owner, collection, id string) error
	// Query returns documents containing filter (JSONB @>), newest first.
	Query(ctx context.Context, owner, collection string, filter []byte) ([][]byte, error)
	// MarkApplied records an idempotency key; false means it was seen before.
	MarkApplied(ctx context.Context, owner, key string) (bool, error)
}
