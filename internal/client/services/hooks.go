// Package services holds the Reactive Data Hooks: thin read/write wrappers
// the UI uses to list a user's records and mutate them.
//
// Every mutation commits the record and its sync queue entry together, then
// refreshes the Sync Manager counters and, when online, asks for a pass.
// Remote failures never surface here.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/client/syncer"
	"github.com/mittimoney/mittimoney/internal/logging"
)

// Store is the part of the Local Store the hooks use. *store.Store
// implements it.
type Store interface {
	Commit(ctx context.Context, muts ...store.Mutation) ([]int64, error)
	Get(ctx context.Context, collection, id string, dst any) error
	GetByIndex(ctx context.Context, collection, index, value string) ([]json.RawMessage, error)
}

// Syncer is the part of the Sync Manager the hooks use.
type Syncer interface {
	Refresh(ctx context.Context) error
	Trigger()
	Status() syncer.Status
}

// ChangeFunc is told which user's records in a collection changed.
type ChangeFunc func(ctx context.Context, userID string)

type Hooks struct {
	store Store
	sync  Syncer
	log   logging.Logger
	now   func() time.Time
	loc   *time.Location

	mu       sync.Mutex
	watchers map[string]map[int]ChangeFunc
	nextID   int
}

type Option func(*Hooks)

func WithClock(now func() time.Time) Option {
	return func(h *Hooks) { h.now = now }
}

// WithLocation sets the zone that decides calendar days for savings streaks.
func WithLocation(loc *time.Location) Option {
	return func(h *Hooks) { h.loc = loc }
}

func New(st Store, sy Syncer, log logging.Logger, opts ...Option) *Hooks {
	h := &Hooks{
		store:    st,
		sync:     sy,
		log:      log.With("module", "services"),
		now:      time.Now,
		loc:      time.Local,
		watchers: map[string]map[int]ChangeFunc{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Watch registers fn for changes in collection and returns a function that
// removes it.
func (h *Hooks) Watch(collection string, fn ChangeFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	if h.watchers[collection] == nil {
		h.watchers[collection] = map[int]ChangeFunc{}
	}
	h.watchers[collection][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers[collection], id)
	}
}

// commit writes muts atomically and runs the post-write steps.
func (h *Hooks) commit(ctx context.Context, muts ...store.Mutation) error {
	if _, err := h.store.Commit(ctx, muts...); err != nil {
		return fmt.Errorf("saving error: %w", err)
	}

	if err := h.sync.Refresh(ctx); err != nil {
		h.log.Warn(ctx, "refresh sync status", "error", err)
	}
	if h.sync.Status().Online {
		h.sync.Trigger()
	}

	for _, m := range muts {
		h.notify(ctx, m.Entity.Collection(), m.Entity.OwnerID())
	}
	return nil
}

func (h *Hooks) notify(ctx context.Context, collection, userID string) {
	h.mu.Lock()
	fns := make([]ChangeFunc, 0, len(h.watchers[collection]))
	for _, fn := range h.watchers[collection] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, userID)
	}
}

func get[T any](ctx context.Context, h *Hooks, collection, id string) (*T, error) {
	v := new(T)
	if err := h.store.Get(ctx, collection, id, v); err != nil {
		return nil, fmt.Errorf("error retrieving %s %s: %w", collection, id, err)
	}
	return v, nil
}

// list returns the user's records in collection, newest first.
func list[T any](ctx context.Context, h *Hooks, collection, userID string) ([]*T, error) {
	raws, err := h.store.GetByIndex(ctx, collection, store.IndexUserID, userID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving %s: %w", collection, err)
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

// observe delivers the user's list now and after every change to it until
// the returned function is called.
func observe[T any](ctx context.Context, h *Hooks, collection, userID string, fn func([]*T)) (func(), error) {
	items, err := list[T](ctx, h, collection, userID)
	if err != nil {
		return nil, err
	}
	fn(items)

	return h.Watch(collection, func(ctx context.Context, changed string) {
		if changed != userID {
			return
		}
		items, err := list[T](ctx, h, collection, userID)
		if err != nil {
			h.log.Warn(ctx, "reload after change", "collection", collection, "error", err)
			return
		}
		fn(items)
	}), nil
}
