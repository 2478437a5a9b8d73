// Package records persists domain entities in per-collection SQLite tables.
//
// Every collection table has the same shape: the entity JSON in data plus
// denormalised columns for the indexes (owner, tag, recency, sync status).
// Index names follow the JSON field they mirror, so callers query with the
// vocabulary of the records themselves:
//
//	repo.ListByIndex(ctx, finance.CollectionTransactions, records.IndexUserID, "u1")
//	repo.ListByIndex(ctx, finance.CollectionDebts, "status", "active")
package records

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	IndexID         = "id"
	IndexUserID     = "userId"
	IndexSyncStatus = "syncStatus"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
)

// Record is the stored form of an entity.
type Record struct {
	ID         string
	OwnerID    string
	Tag        string
	Recency    time.Time
	SyncStatus string
	Data       []byte
}

// Repository stores records keyed by (collection, id).
type Repository interface {
	Upsert(ctx context.Context, collection string, r Record) error
	Get(ctx context.Context, collection, id string) (*Record, error)
	Delete(ctx context.Context, collection, id string) error
	// ListByIndex returns matching records, most recent first.
	ListByIndex(ctx context.Context, collection, index, value string) ([]Record, error)
	// MarkSynced flips the sync flag of one record, in both the column and
	// the JSON document. It reports whether a row changed.
	MarkSynced(ctx context.Context, collection, id string) (bool, error)
	// Count returns (total, unsynced) for a collection.
	Count(ctx context.Context, collection string) (int, int, error)
}

type collectionDef struct {
	table string
	// tagIndex is the index name served by the tag column.
	tagIndex string
}

var collections = map[string]collectionDef{
	"users":        {table: "users", tagIndex: "phoneNumber"},
	"transactions": {table: "transactions", tagIndex: "type"},
	"debts":        {table: "debts", tagIndex: "status"},
	"savings_jars": {table: "savings_jars", tagIndex: "status"},
}

// Collections lists the registered collection names.
func Collections() []string {
	return []string{"users", "transactions", "debts", "savings_jars"}
}

func lookup(collection string) (collectionDef, error) {
	def, ok := collections[collection]
	if !ok {
		return collectionDef{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return def, nil
}

func (c collectionDef) column(index string) (string, error) {
	switch index {
	case IndexID:
		return "id", nil
	case IndexUserID:
		return "user_id", nil
	case IndexSyncStatus:
		return "sync_status", nil
	case c.tagIndex:
		return "tag", nil
	}
	return "", fmt.Errorf("%w: %q on %s", ErrUnknownIndex, index, c.table)
}
