// Package store is the client's Local Store: durable, indexed persistence of
// finance records plus the sync queue that mirrors every local mutation.
//
// Writes never depend on the network. A mutation is committed only when the
// record and its queue entry are written in the same SQLite transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mittimoney/mittimoney/internal/client/migrations"
	"github.com/mittimoney/mittimoney/internal/client/repositories/queue"
	"github.com/mittimoney/mittimoney/internal/client/repositories/records"
	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// ErrUnavailable means the local engine could not be opened or migrated.
// The client cannot run offline-first without it.
var ErrUnavailable = errors.New("local store unavailable")

var ErrNotFound = common.ErrorNotFound

// Re-exported so callers need not import the repository packages.
type (
	Entry      = queue.Entry
	DeadLetter = queue.DeadLetter
)

const (
	IndexUserID     = records.IndexUserID
	IndexSyncStatus = records.IndexSyncStatus
)

// Store owns the SQLite handle. It is safe for concurrent use; the pool is
// limited to one connection so SQLite sees serialised access.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log logging.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

var migrateMu sync.Mutex

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, log logging.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetLogger(logging.NewPrintfLogger(ctx, log.With("component", "goose")))
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the database at dsn and applies the
// schema. Any failure is wrapped in ErrUnavailable.
//
// dsn is a modernc.org/sqlite data source, e.g. "file:/data/mitti.db" or
// "file:test?mode=memory&cache=shared".
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now, log: logging.Nop()}
	for _, o := range opts {
		o(s)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	for _, pragma := range []string{`PRAGMA busy_timeout = 5000`, `PRAGMA journal_mode = WAL`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, pragma, err)
		}
	}
	if err := gooseUp(ctx, db, s.log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	s.db = db
	s.log.Info(ctx, "local store ready", "dsn", dsn)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts a record without queueing it. Use Commit for user mutations.
func (s *Store) Put(ctx context.Context, e finance.Entity) error {
	rec, err := toRecord(e)
	if err != nil {
		return err
	}
	return records.NewSQLiteRepository(s.db).Upsert(ctx, e.Collection(), rec)
}

// Get decodes the record (collection, id) into dst.
// It returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, collection, id string, dst any) error {
	rec, err := records.NewSQLiteRepository(s.db).Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Data, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetByIndex returns the raw JSON of every record whose index equals value,
// newest first.
func (s *Store) GetByIndex(ctx context.Context, collection, index, value string) ([]json.RawMessage, error) {
	recs, err := records.NewSQLiteRepository(s.db).ListByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(recs))
	for i, r := range recs {
		out[i] = r.Data
	}
	return out, nil
}

// QueryByIndex is GetByIndex decoded into T.
func QueryByIndex[T any](ctx context.Context, s *Store, collection, index, value string) ([]*T, error) {
	raws, err := s.GetByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAs is Get returning a freshly allocated T.
func GetAs[T any](ctx context.Context, s *Store, collection, id string) (*T, error) {
	v := new(T)
	if err := s.Get(ctx, collection, id, v); err != nil {
		return nil, err
	}
	return v, nil
}

func toRecord(e finance.Entity) (records.Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return records.Record{}, fmt.Errorf("encode %s/%s: %w", e.Collection(), e.EntityID(), err)
	}
	var status struct {
		SyncStatus string `json:"syncStatus"`
	}
	_ = json.Unmarshal(data, &status)
	if status.SyncStatus == "" {
		status.SyncStatus = string(finance.SyncPending)
	}
	return records.Record{
		ID:         e.EntityID(),
		OwnerID:    e.OwnerID(),
		Tag:        e.Tag(),
		Recency:    e.Recency(),
		SyncStatus: status.SyncStatus,
		Data:       data,
	}, nil
}
