package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/mittimoney/mittimoney/internal/logging"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

func clock() func() time.Time {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time { return base.Add(time.Duration(n.Add(1)) * time.Second) }
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:syncer_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := store.Open(context.Background(), dsn, store.WithClock(clock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newManager(t *testing.T, s *store.Store, gw remote.Gateway, opts ...Option) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OnlineCheckInterval = 0
	m := New(s, gw, cfg, logging.Nop(), append([]Option{WithClock(clock())}, opts...)...)
	require.NoError(t, m.Init(context.Background()))
	return m
}

func expense(t *testing.T, userID, amount string) *finance.Transaction {
	t.Helper()
	tx, err := finance.NewTransaction(userID, finance.TransactionInput{
		Type:   finance.TypeExpense,
		Amount: decimal.RequireFromString(amount),
	}, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return tx
}

func commit(t *testing.T, s *store.Store, op finance.Operation, e finance.Entity) {
	t.Helper()
	_, err := s.Commit(context.Background(), store.Mutation{Op: op, Entity: e})
	require.NoError(t, err)
}

func alwaysFail(err error) func(string, remote.Mutation) error {
	return func(string, remote.Mutation) error { return err }
}

func TestEndToEnd_OfflineThenOnline(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := remote.NewMemory()
	gw.SetOffline(true)
	m := newManager(t, s, gw, WithOnline(false))

	t1 := expense(t, "u1", "150")
	commit(t, s, finance.OpCreate, t1)
	require.NoError(t, m.Refresh(ctx))

	local, err := store.QueryByIndex[finance.Transaction](ctx, s, finance.CollectionTransactions, store.IndexUserID, "u1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, finance.SyncPending, local[0].SyncStatus)
	assert.Equal(t, 1, m.Status().PendingItems)

	ran, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "no pass while offline")

	gw.SetOffline(false)
	m.SetOnline(ctx, true)

	st := m.Status()
	assert.Equal(t, 0, st.PendingItems)
	assert.Equal(t, 1, st.SuccessCount)
	assert.False(t, st.IsSyncing)
	assert.False(t, st.LastSyncTime.IsZero())

	got, err := store.GetAs[finance.Transaction](ctx, s, finance.CollectionTransactions, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, finance.SyncSynced, got.SyncStatus)

	assert.Equal(t, 1, gw.Len(finance.CollectionTransactions))
	doc, err := gw.Get(ctx, finance.CollectionTransactions, t1.ID)
	require.NoError(t, err)

	want := map[string]any{}
	raw, err := json.Marshal(t1)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &want))
	delete(want, "syncStatus")
	assert.Empty(t, cmp.Diff(want, map[string]any(doc)))
}

func TestRetryCeiling(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := remote.NewMemory()
	gw.FailWith(alwaysFail(remote.Retryable(errors.New("503 from upstream"))))
	m := newManager(t, s, gw)

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))

	for i := 0; i < 3; i++ {
		_, err := m.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, m.Status().PendingItems, "pass %d", i+1)
		assert.Equal(t, 0, m.Status().FailedItems)
	}

	_, err := m.Sync(ctx)
	require.NoError(t, err)

	st := m.Status()
	assert.Equal(t, 0, st.PendingItems)
	assert.Equal(t, 1, st.FailedItems)
	assert.Equal(t, 1, st.ErrorCount)
	assert.Equal(t, 1, st.DeadLetters)
	assert.Len(t, gw.Calls(), 4, "one attempt plus three retries")

	dls, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, 4, dls[0].Attempts)

	// later passes do not count it again
	_, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Status().FailedItems)
}

func TestTerminalErrorIsDeadLetteredAtOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := remote.NewMemory()
	gw.FailWith(alwaysFail(remote.Terminal(errors.New("400 invalid document"))))
	m := newManager(t, s, gw)

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))

	_, err := m.Sync(ctx)
	require.NoError(t, err)

	st := m.Status()
	assert.Equal(t, 0, st.PendingItems)
	assert.Equal(t, 1, st.FailedItems)
	assert.Equal(t, 1, st.DeadLetters)
	assert.Len(t, gw.Calls(), 1)
}

func TestNotConfiguredKeepsEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	m := newManager(t, s, remote.NotConfigured{})

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))
	commit(t, s, finance.OpCreate, expense(t, "u1", "20"))

	ran, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	st := m.Status()
	assert.True(t, st.LocalOnly)
	assert.Equal(t, 2, st.PendingItems)
	assert.Equal(t, 0, st.FailedItems)
	assert.True(t, st.LastSyncTime.IsZero())

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	for _, e := range pending {
		assert.Equal(t, 0, e.RetryCount)
	}
}

func TestPerEntityOrderAcrossPasses(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := remote.NewMemory()
	m := newManager(t, s, gw)

	debt, err := finance.NewDebt("u1", finance.DebtInput{Name: "shop", TotalAmount: decimal.NewFromInt(1000)}, time.Now())
	require.NoError(t, err)
	commit(t, s, finance.OpCreate, debt)
	require.NoError(t, debt.ApplyRepayment(decimal.NewFromInt(100), time.Now(), "first"))
	commit(t, s, finance.OpUpdate, debt)
	require.NoError(t, debt.ApplyRepayment(decimal.NewFromInt(200), time.Now(), "second"))
	commit(t, s, finance.OpUpdate, debt)

	other := expense(t, "u1", "5")
	commit(t, s, finance.OpCreate, other)

	// the first update fails once; the second must wait for it
	var failed atomic.Bool
	gw.FailWith(func(_ string, mu remote.Mutation) error {
		if mu.Op == finance.OpUpdate && !failed.Swap(true) {
			return remote.Retryable(errors.New("timeout"))
		}
		return nil
	})

	_, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Status().PendingItems)

	_, err = m.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Status().PendingItems)

	var ops []string
	for _, c := range gw.Calls() {
		if c.ID == debt.ID {
			ops = append(ops, string(c.Op)+":"+fmt.Sprint(c.Document["remainingAmount"]))
		}
	}
	assert.Equal(t, []string{"create:1000", "update:900", "update:900", "update:700"}, ops)

	doc, err := gw.Get(ctx, finance.CollectionDebts, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, "700", doc["remainingAmount"])
	assert.Equal(t, 1, gw.Len(finance.CollectionTransactions))
}

func TestReplayAfterLostAckDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := remote.NewMemory()
	m := newManager(t, s, gw)

	debt, err := finance.NewDebt("u1", finance.DebtInput{Name: "rent", TotalAmount: decimal.NewFromInt(1000)}, time.Now())
	require.NoError(t, err)
	commit(t, s, finance.OpCreate, debt)
	require.NoError(t, debt.ApplyRepayment(decimal.NewFromInt(300), time.Now(), ""))
	commit(t, s, finance.OpUpdate, debt)

	// the create reaches the remote but the reply is lost
	var lost atomic.Bool
	gw.FailWith(func(_ string, mu remote.Mutation) error {
		if mu.Op == finance.OpCreate && !lost.Swap(true) {
			if err := remote.ApplyMutation(ctx, gw, mu); err != nil {
				return err
			}
			return remote.Retryable(errors.New("connection reset"))
		}
		return nil
	})

	_, err = m.Sync(ctx)
	require.NoError(t, err)
	_, err = m.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Len(finance.CollectionDebts))
	doc, err := gw.Get(ctx, finance.CollectionDebts, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, "700", doc["remainingAmount"])
	assert.Equal(t, 0, m.Status().PendingItems)
}

type blockingGateway struct {
	remote.Gateway
	entered chan struct{}
	release chan struct{}
}

func (b *blockingGateway) Apply(ctx context.Context, mu remote.Mutation) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestSyncIsNotReentrant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := &blockingGateway{Gateway: remote.NewMemory(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := newManager(t, s, gw)

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))

	done := make(chan bool, 1)
	go func() {
		ran, _ := m.Sync(ctx)
		done <- ran
	}()
	<-gw.entered

	assert.True(t, m.Status().IsSyncing)
	ran, err := m.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	close(gw.release)
	assert.True(t, <-done)
	assert.False(t, m.Status().IsSyncing)
}

func TestStatusBroadcasts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	m := newManager(t, s, remote.NewMemory())

	var (
		mu   sync.Mutex
		seen []Status
	)
	unsubscribe := m.Subscribe(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))
	_, err := m.Sync(ctx)
	require.NoError(t, err)
	unsubscribe()
	_, err = m.Sync(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsSyncing)
	assert.False(t, seen[1].IsSyncing)
	assert.Equal(t, 1, seen[1].SuccessCount)
}

func TestCheckConnectivity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	gw := remote.NewMemory()
	m := newManager(t, s, gw)

	gw.SetOffline(true)
	m.CheckConnectivity(ctx)
	assert.False(t, m.Status().Online)

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))

	gw.SetOffline(false)
	m.CheckConnectivity(ctx)
	assert.True(t, m.Status().Online)
	assert.Equal(t, 1, m.Status().SuccessCount, "coming online starts a pass")

	m2 := newManager(t, s, remote.NotConfigured{})
	m2.CheckConnectivity(ctx)
	assert.True(t, m2.Status().LocalOnly)
}

func TestLastSyncTimeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	m := newManager(t, s, remote.NewMemory())

	_, err := m.Sync(ctx)
	require.NoError(t, err)
	last := m.Status().LastSyncTime
	require.False(t, last.IsZero())

	m2 := newManager(t, s, remote.NewMemory())
	assert.True(t, last.Equal(m2.Status().LastSyncTime))
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newStore(t)
	gw := remote.NewMemory()
	cfg := Config{Interval: 10 * time.Millisecond, MaxRetries: 3, OnlineCheckInterval: 10 * time.Millisecond}
	m := New(s, gw, cfg, logging.Nop())
	require.NoError(t, m.Init(context.Background()))

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Status().PendingItems == 0 }, 2*time.Second, 10*time.Millisecond)
	m.Trigger()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMetricsRecordReplayResults(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	m := newManager(t, s, remote.NewMemory())

	commit(t, s, finance.OpCreate, expense(t, "u1", "10"))
	_, err := m.Sync(ctx)
	require.NoError(t, err)

	families, err := m.Metrics().Registry.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(families, "mittimoney_sync_entries_total", "result", "synced"))
	assert.Equal(t, 1.0, counterValue(families, "mittimoney_sync_passes_total", "outcome", "completed"))
}

func counterValue(families []*dto.MetricFamily, name, label, value string) float64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
