// Package queue persists the durable sync queue and its dead-letter table.
package queue

import (
	"context"
	"time"
)

// Entry is one pending remote mutation. Payload is the entity snapshot taken
// at enqueue time; replay never consults the current record.
type Entry struct {
	ID             int64
	Collection     string
	EntityID       string
	Op             string
	Payload        []byte
	IdempotencyKey string
	EnqueuedAt     time.Time
	RetryCount     int
	LastError      string
}

// DeadLetter is an entry removed from the queue without reaching the remote.
type DeadLetter struct {
	ID       int64
	Entry    Entry
	Attempts int
	Reason   string
	FailedAt time.Time
}

type Repository interface {
	Append(ctx context.Context, e Entry) (int64, error)
	// List returns up to limit entries in FIFO order; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Entry, error)
	Get(ctx context.Context, id int64) (*Entry, error)
	Delete(ctx context.Context, ids ...int64) error
	// BumpRetry increments the retry count and returns the new value.
	BumpRetry(ctx context.Context, id int64, lastErr string) (int, error)
	Count(ctx context.Context) (int, error)
	CountForEntity(ctx context.Context, collection, entityID string) (int, error)
}

type DeadLetterRepository interface {
	Insert(ctx context.Context, d DeadLetter) (int64, error)
	List(ctx context.Context) ([]DeadLetter, error)
	Get(ctx context.Context, id int64) (*DeadLetter, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}
