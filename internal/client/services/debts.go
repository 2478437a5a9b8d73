package services

import (
	"context"

	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/finance"
	"github.com/shopspring/decimal"
)

func (h *Hooks) AddDebt(ctx context.Context, userID string, in finance.DebtInput) (*finance.Debt, error) {
	d, err := finance.NewDebt(userID, in, h.now())
	if err != nil {
		return nil, err
	}
	if err := h.commit(ctx, store.Mutation{Op: finance.OpCreate, Entity: d}); err != nil {
		return nil, err
	}
	return d, nil
}

// RepayDebt records a payment; the remaining amount never goes below zero.
func (h *Hooks) RepayDebt(ctx context.Context, debtID string, amount decimal.Decimal, note string) (*finance.Debt, error) {
	d, err := get[finance.Debt](ctx, h, finance.CollectionDebts, debtID)
	if err != nil {
		return nil, err
	}
	if err := d.ApplyRepayment(amount, h.now(), note); err != nil {
		return nil, err
	}
	if err := h.commit(ctx, store.Mutation{Op: finance.OpUpdate, Entity: d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (h *Hooks) Debts(ctx context.Context, userID string) ([]*finance.Debt, error) {
	return list[finance.Debt](ctx, h, finance.CollectionDebts, userID)
}

func (h *Hooks) ObserveDebts(ctx context.Context, userID string, fn func([]*finance.Debt)) (func(), error) {
	return observe(ctx, h, finance.CollectionDebts, userID, fn)
}
