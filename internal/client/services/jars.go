package services

import (
	"context"

	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/shopspring/decimal"
)

func (h *Hooks) CreateJar(ctx context.Context, userID, name, goal string, target decimal.Decimal) (*finance.SavingsJar, error) {
	j, err := finance.NewSavingsJar(userID, name, goal, target, h.now())
	if err != nil {
		return nil, err
	}
	if err := h.commit(ctx, store.Mutation{Op: finance.OpCreate, Entity: j}); err != nil {
		return nil, err
	}
	return j, nil
}

// Deposit adds to a jar and advances its daily streak.
func (h *Hooks) Deposit(ctx context.Context, jarID string, amount decimal.Decimal, note string) (*finance.SavingsJar, error) {
	return h.updateJar(ctx, jarID, func(j *finance.SavingsJar) error {
		return j.Deposit(amount, h.now(), h.loc, note)
	})
}

func (h *Hooks) PauseJar(ctx context.Context, jarID string) (*finance.SavingsJar, error) {
	return h.updateJar(ctx, jarID, func(j *finance.SavingsJar) error { return j.Pause(h.now()) })
}

func (h *Hooks) ResumeJar(ctx context.Context, jarID string) (*finance.SavingsJar, error) {
	return h.updateJar(ctx, jarID, func(j *finance.SavingsJar) error { return j.Resume(h.now()) })
}

func (h *Hooks) updateJar(ctx context.Context, jarID string, fn func(*finance.SavingsJar) error) (*finance.SavingsJar, error) {
	j, err := get[finance.SavingsJar](ctx, h, finance.CollectionSavingsJars, jarID)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	if err := h.commit(ctx, store.Mutation{Op: finance.OpUpdate, Entity: j}); err != nil {
		return nil, err
	}
	return j, nil
}

func (h *Hooks) Jars(ctx context.Context, userID string) ([]*finance.SavingsJar, error) {
	return list[finance.SavingsJar](ctx, h, finance.CollectionSavingsJars, userID)
}

func (h *Hooks) ObserveJars(ctx context.Context, userID string, fn func([]*finance.SavingsJar)) (func(), error) {
	return observe(ctx, h, finance.CollectionSavingsJars, userID, fn)
}
