package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

func fixedClock() func() time.Time {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := Open(context.Background(), dsn, WithClock(fixedClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newExpense(t *testing.T, userID, amount string) *finance.Transaction {
	t.Helper()
	tx, err := finance.NewTransaction(userID, finance.TransactionInput{
		Type:   finance.TypeExpense,
		Amount: decimal.RequireFromString(amount),
	}, time.Now())
	require.NoError(t, err)
	return tx
}

func TestOpen_MigrationFailureIsUnavailable(t *testing.T) {
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })
	gooseUp = func(context.Context, *sql.DB, logging.Logger) error { return errors.New("disk I/O error") }

	_, err := Open(context.Background(), "file:broken?mode=memory&cache=shared")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOpen_MigrationOutputGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	dsn := fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := Open(context.Background(), dsn, WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Contains(t, buf.String(), "component=goose")
	assert.Contains(t, buf.String(), "goose:")
}

func TestPutThenEnqueue_AvailableOffline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := newExpense(t, "u1", "150")
	require.NoError(t, s.Put(ctx, tx))
	qid, err := s.EnqueueSync(ctx, finance.OpCreate, tx)
	require.NoError(t, err)
	require.NotZero(t, qid)

	got, err := QueryByIndex[finance.Transaction](ctx, s, finance.CollectionTransactions, IndexUserID, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tx.ID, got[0].ID)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, finance.SyncPending, got[0].SyncStatus)

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCommit_WritesRecordAndQueueTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := finance.NewUser("u1", "+910000000001", "Ravi", "hi", time.Now())
	tx := newExpense(t, user.ID, "40")
	user.ApplyTransaction(tx, time.Now())

	ids, err := s.Commit(ctx,
		Mutation{Op: finance.OpCreate, Entity: tx},
		Mutation{Op: finance.OpUpdate, Entity: user},
	)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, finance.CollectionTransactions, pending[0].Collection)
	assert.Equal(t, "create", pending[0].Op)
	assert.Equal(t, tx.ID, pending[0].EntityID)
	assert.NotEmpty(t, pending[0].IdempotencyKey)
	assert.NotEqual(t, pending[0].IdempotencyKey, pending[1].IdempotencyKey)

	u, err := GetAs[finance.User](ctx, s, finance.CollectionUsers, "u1")
	require.NoError(t, err)
	assert.True(t, u.CashBalance.Equal(decimal.NewFromInt(-40)))
}

func TestCommit_RollsBackOnInvalidMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := newExpense(t, "u1", "10")
	_, err := s.Commit(ctx,
		Mutation{Op: finance.OpCreate, Entity: tx},
		Mutation{Op: "merge", Entity: tx},
	)
	require.Error(t, err)

	var dst finance.Transaction
	assert.ErrorIs(t, s.Get(ctx, finance.CollectionTransactions, tx.ID, &dst), ErrNotFound)
	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestCommit_DeleteRemovesRecordKeepsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := newExpense(t, "u1", "10")
	_, err := s.Commit(ctx, Mutation{Op: finance.OpCreate, Entity: tx})
	require.NoError(t, err)
	_, err = s.Commit(ctx, Mutation{Op: finance.OpDelete, Entity: tx})
	require.NoError(t, err)

	var dst finance.Transaction
	assert.ErrorIs(t, s.Get(ctx, finance.CollectionTransactions, tx.ID, &dst), ErrNotFound)

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "delete", pending[1].Op)
	assert.Contains(t, string(pending[1].Payload), tx.ID)
}

func TestGetByIndex_NewestFirstAndTagIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, amount := range []string{"1", "2", "3"} {
		tx := newExpense(t, "u1", amount)
		tx.Date = base.Add(time.Duration(i) * time.Hour)
		_, err := s.Commit(ctx, Mutation{Op: finance.OpCreate, Entity: tx})
		require.NoError(t, err)
	}
	other := newExpense(t, "u2", "9")
	require.NoError(t, s.Put(ctx, other))

	got, err := QueryByIndex[finance.Transaction](ctx, s, finance.CollectionTransactions, IndexUserID, "u1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Amount.String())
	assert.Equal(t, "1", got[2].Amount.String())

	byType, err := s.GetByIndex(ctx, finance.CollectionTransactions, "type", "expense")
	require.NoError(t, err)
	assert.Len(t, byType, 4)

	_, err = s.GetByIndex(ctx, finance.CollectionTransactions, "phoneNumber", "x")
	assert.Error(t, err)
	_, err = s.GetByIndex(ctx, "bills", IndexUserID, "u1")
	assert.Error(t, err)
}

func TestDequeueSync_MarksSyncedWhenEntityDrained(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	debt, err := finance.NewDebt("u1", finance.DebtInput{TotalAmount: decimal.NewFromInt(1000)}, time.Now())
	require.NoError(t, err)
	ids, err := s.Commit(ctx, Mutation{Op: finance.OpCreate, Entity: debt})
	require.NoError(t, err)
	require.NoError(t, debt.ApplyRepayment(decimal.NewFromInt(100), time.Now(), ""))
	ids2, err := s.Commit(ctx, Mutation{Op: finance.OpUpdate, Entity: debt})
	require.NoError(t, err)

	require.NoError(t, s.DequeueSync(ctx, ids[0]))
	got, err := GetAs[finance.Debt](ctx, s, finance.CollectionDebts, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.SyncPending, got.SyncStatus, "update still queued")

	require.NoError(t, s.DequeueSync(ctx, ids2[0]))
	got, err = GetAs[finance.Debt](ctx, s, finance.CollectionDebts, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.SyncSynced, got.SyncStatus)
	assert.True(t, got.RemainingAmount.Equal(decimal.NewFromInt(900)))

	synced, err := s.GetByIndex(ctx, finance.CollectionDebts, IndexSyncStatus, "synced")
	require.NoError(t, err)
	assert.Len(t, synced, 1)

	// unknown ids are ignored
	require.NoError(t, s.DequeueSync(ctx, 9999))
}

func TestBumpRetryDeadLetterRequeue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := newExpense(t, "u1", "5")
	ids, err := s.Commit(ctx, Mutation{Op: finance.OpCreate, Entity: tx})
	require.NoError(t, err)

	n, err := s.BumpRetry(ctx, ids[0], errors.New("timeout"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.BumpRetry(ctx, ids[0], errors.New("timeout"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "timeout", pending[0].LastError)

	require.NoError(t, s.DeadLetter(ctx, pending[0], "retry ceiling reached"))

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	dls, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, 3, dls[0].Attempts)
	assert.Equal(t, "retry ceiling reached", dls[0].Reason)
	assert.Equal(t, pending[0].IdempotencyKey, dls[0].Entry.IdempotencyKey)

	newID, err := s.Requeue(ctx, dls[0].ID)
	require.NoError(t, err)
	assert.Greater(t, newID, ids[0])

	pending, err = s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)
	assert.Equal(t, dls[0].Entry.IdempotencyKey, pending[0].IdempotencyKey)

	_, err = s.Requeue(ctx, dls[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := finance.NewUser("u1", "+91", "A", "", time.Now())
	tx := newExpense(t, "u1", "5")
	ids, err := s.Commit(ctx, Mutation{Op: finance.OpCreate, Entity: user}, Mutation{Op: finance.OpCreate, Entity: tx})
	require.NoError(t, err)
	require.NoError(t, s.DequeueSync(ctx, ids[0]))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Records[finance.CollectionUsers])
	assert.Equal(t, 0, st.Unsynced[finance.CollectionUsers])
	assert.Equal(t, 1, st.Unsynced[finance.CollectionTransactions])
	assert.Equal(t, 0, st.Records[finance.CollectionDebts])
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 0, st.DeadLetters)
}

func TestLastSyncTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	at := time.Date(2026, 5, 1, 12, 0, 0, 123, time.UTC)
	require.NoError(t, s.SetLastSyncTime(ctx, at))
	got, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(got))
}

func TestQueueOrderSurvivesRestart(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "mitti.db")
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	require.NoError(t, err)

	jar, err := finance.NewSavingsJar("u1", "goat", "", decimal.NewFromInt(500), time.Now())
	require.NoError(t, err)
	_, err = s.Commit(ctx, Mutation{Op: finance.OpCreate, Entity: jar})
	require.NoError(t, err)
	for _, amt := range []int64{10, 20} {
		require.NoError(t, jar.Deposit(decimal.NewFromInt(amt), time.Now(), time.UTC, ""))
		_, err = s.Commit(ctx, Mutation{Op: finance.OpUpdate, Entity: jar})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"create", "update", "update"}, []string{pending[0].Op, pending[1].Op, pending[2].Op})
	assert.Contains(t, string(pending[1].Payload), `"currentAmount":"10"`)
	assert.Contains(t, string(pending[2].Payload), `"currentAmount":"30"`)
}
