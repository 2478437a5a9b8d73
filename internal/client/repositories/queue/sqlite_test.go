package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE sync_queue (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  collection      TEXT NOT NULL,
  entity_id       TEXT NOT NULL,
  op              TEXT NOT NULL,
  payload         TEXT NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  enqueued_at     INTEGER NOT NULL,
  retry_count     INTEGER NOT NULL DEFAULT 0,
  last_error      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE sync_dead_letters (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  queue_id        INTEGER NOT NULL,
  collection      TEXT NOT NULL,
  entity_id       TEXT NOT NULL,
  op              TEXT NOT NULL,
  payload         TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  enqueued_at     INTEGER NOT NULL,
  attempts        INTEGER NOT NULL,
  reason          TEXT NOT NULL,
  failed_at       INTEGER NOT NULL
);`)
	require.NoError(t, err)
	return db
}

var testEnqueuedAt = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func entry(entityID, op, key string) Entry {
	return Entry{
		Collection:     "debts",
		EntityID:       entityID,
		Op:             op,
		Payload:        []byte(`{"id":"` + entityID + `"}`),
		IdempotencyKey: key,
		EnqueuedAt:     testEnqueuedAt,
	}
}

func TestAppendAndList_FIFO(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	first, err := r.Append(ctx, entry("d1", "create", "k1"))
	require.NoError(t, err)
	_, err = r.Append(ctx, entry("d1", "update", "k2"))
	require.NoError(t, err)
	_, err = r.Append(ctx, entry("d2", "create", "k3"))
	require.NoError(t, err)

	all, err := r.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"create", "update", "create"}, []string{all[0].Op, all[1].Op, all[2].Op})
	assert.Equal(t, first, all[0].ID)
	assert.Equal(t, `{"id":"d1"}`, string(all[0].Payload))
	assert.True(t, testEnqueuedAt.Equal(all[0].EnqueuedAt))

	two, err := r.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	n, err := r.CountForEntity(ctx, "debts", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAppend_DuplicateKeyRejected(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Append(ctx, entry("d1", "create", "k1"))
	require.NoError(t, err)
	_, err = r.Append(ctx, entry("d1", "create", "k1"))
	assert.Error(t, err)
}

func TestBumpRetryAndDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	id, err := r.Append(ctx, entry("d1", "create", "k1"))
	require.NoError(t, err)

	n, err := r.BumpRetry(ctx, id, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.BumpRetry(ctx, id, "503")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, e.RetryCount)
	assert.Equal(t, "503", e.LastError)

	require.NoError(t, r.Delete(ctx, id))
	require.NoError(t, r.Delete(ctx))

	_, err = r.Get(ctx, id)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.BumpRetry(ctx, id, "x")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeadLetters(t *testing.T) {
	db := setupDB(t)
	q := NewSQLiteRepository(db)
	dl := NewSQLiteDeadLetterRepository(db)
	ctx := context.Background()

	id, err := q.Append(ctx, entry("d1", "update", "k1"))
	require.NoError(t, err)
	e, err := q.Get(ctx, id)
	require.NoError(t, err)

	failed := testEnqueuedAt.Add(time.Minute)
	dlID, err := dl.Insert(ctx, DeadLetter{Entry: *e, Attempts: 4, Reason: "retry ceiling", FailedAt: failed})
	require.NoError(t, err)

	list, err := dl.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, dlID, got.ID)
	assert.Equal(t, id, got.Entry.ID)
	assert.Equal(t, "k1", got.Entry.IdempotencyKey)
	assert.Equal(t, 4, got.Attempts)
	assert.Equal(t, "retry ceiling", got.Reason)
	assert.True(t, failed.Equal(got.FailedAt))

	count, err := dl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, dl.Delete(ctx, dlID))
	_, err = dl.Get(ctx, dlID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
