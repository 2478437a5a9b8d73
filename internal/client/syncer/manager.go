// Package syncer is the Sync Manager: it replays the durable sync queue
// against the Remote Gateway, one entry at a time, and reports progress.
//
// Replay is deliberately sequential. Per-entity FIFO order is what makes an
// update never overtake its create; a concurrent replay would have to
// partition by entity id to keep that property.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/mittimoney/mittimoney/internal/logging"
)

// Queue is the part of the Local Store the manager drives. *store.Store
// implements it.
type Queue interface {
	Pending(ctx context.Context, limit int) ([]store.Entry, error)
	QueueDepth(ctx context.Context) (int, error)
	DequeueSync(ctx context.Context, ids ...int64) error
	BumpRetry(ctx context.Context, id int64, cause error) (int, error)
	DeadLetter(ctx context.Context, e store.Entry, reason string) error
	DeadLetters(ctx context.Context) ([]store.DeadLetter, error)
	LastSyncTime(ctx context.Context) (time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

type Config struct {
	// Interval between timer-driven passes.
	Interval time.Duration
	// MaxRetries is the retry ceiling: an entry gets one attempt plus
	// MaxRetries retries before it is dead-lettered.
	MaxRetries int
	// OnlineCheckInterval is the connectivity probe period; zero disables
	// the probe.
	OnlineCheckInterval time.Duration
	// BatchSize caps the entries read per pass; zero reads the whole queue.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:            30 * time.Second,
		MaxRetries:          3,
		OnlineCheckInterval: 3 * time.Second,
	}
}

type Manager struct {
	q       Queue
	gw      remote.Gateway
	cfg     Config
	log     logging.Logger
	now     func() time.Time
	metrics *Metrics

	syncing atomic.Bool
	trigger chan struct{}

	mu           sync.Mutex
	status       Status
	listeners    map[int]Listener
	nextListener int
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithOnline sets the initial connectivity flag; the default is online.
func WithOnline(online bool) Option {
	return func(m *Manager) { m.status.Online = online }
}

func New(q Queue, gw remote.Gateway, cfg Config, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		q:         q,
		gw:        gw,
		cfg:       cfg,
		log:       log.With("module", "syncer"),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		listeners: map[int]Listener{},
		status:    Status{Online: true},
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	return m
}

func (m *Manager) Metrics() *Metrics { return m.metrics }

// Init loads the persisted last sync time and queue counters.
func (m *Manager) Init(ctx context.Context) error {
	last, err := m.q.LastSyncTime(ctx)
	if err != nil {
		return fmt.Errorf("load last sync time: %w", err)
	}
	m.update(func(s *Status) { s.LastSyncTime = last })
	return m.Refresh(ctx)
}

// Refresh recomputes the queue counters and broadcasts them. Writers call
// it after enqueuing.
func (m *Manager) Refresh(ctx context.Context) error {
	depth, dead, err := m.counts(ctx)
	if err != nil {
		return err
	}
	m.update(func(s *Status) {
		s.PendingItems = depth
		s.DeadLetters = dead
	})
	return nil
}

func (m *Manager) counts(ctx context.Context) (int, int, error) {
	depth, err := m.q.QueueDepth(ctx)
	if err != nil {
		return 0, 0, err
	}
	dl, err := m.q.DeadLetters(ctx)
	if err != nil {
		return 0, 0, err
	}
	return depth, len(dl), nil
}

// Trigger asks the Run loop for a pass. It never blocks; a request made
// while one is already waiting is merged with it.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run drives timer, trigger and connectivity passes until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var probe <-chan time.Time
	if m.cfg.OnlineCheckInterval > 0 {
		pt := time.NewTicker(m.cfg.OnlineCheckInterval)
		defer pt.Stop()
		probe = pt.C
		m.CheckConnectivity(ctx)
	}

	m.log.Info(ctx, "sync manager started", "interval", m.cfg.Interval)
	m.syncAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info(ctx, "sync manager stopped")
			return nil
		case <-ticker.C:
			m.syncAndLog(ctx)
		case <-m.trigger:
			m.syncAndLog(ctx)
		case <-probe:
			m.CheckConnectivity(ctx)
		}
	}
}

func (m *Manager) syncAndLog(ctx context.Context) {
	if _, err := m.Sync(ctx); err != nil && ctx.Err() == nil {
		m.log.Error(ctx, "sync pass failed", "error", err)
	}
}

// CheckConnectivity pings the gateway and feeds the result to SetOnline.
// The flag is advisory: the replay call is what decides success.
func (m *Manager) CheckConnectivity(ctx context.Context) {
	err := m.gw.Ping(ctx)
	switch remote.Classify(err) {
	case remote.ClassOK:
		m.SetOnline(ctx, true)
	case remote.ClassNotConfigured:
		m.update(func(s *Status) { s.LocalOnly = true })
	default:
		m.SetOnline(ctx, false)
	}
}

// SetOnline records connectivity. Going from offline to online starts a
// pass right away.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	var was bool
	m.update(func(s *Status) {
		was = s.Online
		s.Online = online
	})
	if was == online {
		return
	}
	m.log.Info(ctx, "connectivity changed", "online", online)
	if online {
		m.syncAndLog(ctx)
	}
}

type passResult struct {
	attempted   int
	synced      int
	failed      int
	localOnly   bool
	interrupted bool
}

// Sync runs one pass over the queue. It reports false without doing anything
// when another pass is running or the device is offline.
func (m *Manager) Sync(ctx context.Context) (bool, error) {
	if !m.Status().Online {
		m.log.Debug(ctx, "offline, sync skipped")
		return false, nil
	}
	if !m.syncing.CompareAndSwap(false, true) {
		m.log.Debug(ctx, "sync already running")
		return false, nil
	}
	defer m.syncing.Store(false)

	start := m.now()
	m.update(func(s *Status) { s.IsSyncing = true })

	res, passErr := m.pass(ctx)

	// bookkeeping must survive a cancelled pass
	bctx := context.WithoutCancel(ctx)
	depth, dead, err := m.counts(bctx)
	if err != nil && passErr == nil {
		passErr = err
	}

	finished := m.now()
	completed := passErr == nil && !res.localOnly && !res.interrupted
	if completed {
		if err := m.q.SetLastSyncTime(bctx, finished); err != nil {
			m.log.Warn(ctx, "persist last sync time", "error", err)
		}
	}

	m.update(func(s *Status) {
		s.IsSyncing = false
		s.SuccessCount += res.synced
		s.FailedItems += res.failed
		s.ErrorCount += res.failed
		s.PendingItems = depth
		s.DeadLetters = dead
		if res.attempted > 0 {
			s.LocalOnly = res.localOnly
		}
		if completed {
			s.LastSyncTime = finished
		}
	})

	outcome := "completed"
	switch {
	case passErr != nil:
		outcome = "error"
	case res.localOnly:
		outcome = "local_only"
	case res.interrupted:
		outcome = "interrupted"
	}
	m.metrics.observePass(outcome, finished.Sub(start))
	m.log.Info(ctx, "sync pass finished", "outcome", outcome,
		"synced", res.synced, "failed", res.failed, "pending", depth)

	return true, passErr
}

func (m *Manager) pass(ctx context.Context) (passResult, error) {
	var res passResult

	entries, err := m.q.Pending(ctx, m.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("read queue: %w", err)
	}

	// entities with an entry still queued after a failure in this pass
	blocked := map[string]struct{}{}

	for _, e := range entries {
		if ctx.Err() != nil {
			res.interrupted = true
			return res, nil
		}

		key := e.Collection + "/" + e.EntityID
		if _, ok := blocked[key]; ok {
			m.metrics.observeEntry(e.Collection, resultSkipped)
			continue
		}

		mut, err := toMutation(e)
		if err != nil {
			if err := m.deadLetter(ctx, e, err.Error()); err != nil {
				return res, err
			}
			res.failed++
			continue
		}

		res.attempted++
		err = m.gw.Apply(ctx, mut)

		switch remote.Classify(err) {
		case remote.ClassOK:
			if err := m.q.DequeueSync(ctx, e.ID); err != nil {
				return res, fmt.Errorf("dequeue %d: %w", e.ID, err)
			}
			res.synced++
			m.metrics.observeEntry(e.Collection, resultSynced)

		case remote.ClassNotConfigured:
			m.log.Warn(ctx, "no remote backend configured, keeping data local", "error", err)
			res.localOnly = true
			return res, nil

		case remote.ClassTerminal:
			m.log.Warn(ctx, "entry rejected by remote", "entry", e.ID, "collection", e.Collection, "error", err)
			if err := m.deadLetter(ctx, e, "rejected: "+err.Error()); err != nil {
				return res, err
			}
			res.failed++

		case remote.ClassRetryable:
			if remote.CircuitOpen(err) || ctx.Err() != nil {
				// not the entry's fault; keep its budget
				res.interrupted = true
				return res, nil
			}
			if e.RetryCount < m.cfg.MaxRetries {
				n, err2 := m.q.BumpRetry(ctx, e.ID, err)
				if err2 != nil {
					return res, fmt.Errorf("bump retry %d: %w", e.ID, err2)
				}
				m.log.Debug(ctx, "entry will be retried", "entry", e.ID, "retries", n, "error", err)
				blocked[key] = struct{}{}
				m.metrics.observeEntry(e.Collection, resultRetry)
				continue
			}
			reason := fmt.Sprintf("retry ceiling reached after %d attempts: %v", e.RetryCount+1, err)
			m.log.Warn(ctx, "entry dropped", "entry", e.ID, "collection", e.Collection, "reason", reason)
			if err := m.deadLetter(ctx, e, reason); err != nil {
				return res, err
			}
			res.failed++
		}
	}
	return res, nil
}

func (m *Manager) deadLetter(ctx context.Context, e store.Entry, reason string) error {
	if err := m.q.DeadLetter(ctx, e, reason); err != nil {
		return fmt.Errorf("dead-letter %d: %w", e.ID, err)
	}
	m.metrics.observeEntry(e.Collection, resultDeadLetter)
	return nil
}

// toMutation decodes the queued snapshot and strips fields that only mean
// something on this device.
func toMutation(e store.Entry) (remote.Mutation, error) {
	op := finance.Operation(e.Op)
	if !op.Valid() {
		return remote.Mutation{}, fmt.Errorf("unknown operation %q", e.Op)
	}
	doc := remote.Document{}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &doc); err != nil {
			return remote.Mutation{}, fmt.Errorf("corrupt payload: %w", err)
		}
	}
	for _, f := range finance.LocalOnlyFields {
		delete(doc, f)
	}
	return remote.Mutation{
		Collection:     e.Collection,
		Op:             op,
		ID:             e.EntityID,
		IdempotencyKey: e.IdempotencyKey,
		Document:       doc,
	}, nil
}
