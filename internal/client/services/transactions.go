package services

import (
	"context"
	"errors"

	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/finance"
)

// LogTransaction records income or an expense. When the user has a profile
// the matching balance is adjusted in the same commit.
func (h *Hooks) LogTransaction(ctx context.Context, userID string, in finance.TransactionInput) (*finance.Transaction, error) {
	now := h.now()
	tx, err := finance.NewTransaction(userID, in, now)
	if err != nil {
		return nil, err
	}
	muts := []store.Mutation{{Op: finance.OpCreate, Entity: tx}}

	u, err := h.User(ctx, userID)
	switch {
	case err == nil:
		u.ApplyTransaction(tx, now)
		muts = append(muts, store.Mutation{Op: finance.OpUpdate, Entity: u})
	case errors.Is(err, store.ErrNotFound):
		h.log.Debug(ctx, "no profile, balance not adjusted", "user", userID)
	default:
		return nil, err
	}

	if err := h.commit(ctx, muts...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Transactions lists the user's transactions, most recent first.
func (h *Hooks) Transactions(ctx context.Context, userID string) ([]*finance.Transaction, error) {
	return list[finance.Transaction](ctx, h, finance.CollectionTransactions, userID)
}

func (h *Hooks) ObserveTransactions(ctx context.Context, userID string, fn func([]*finance.Transaction)) (func(), error) {
	return observe(ctx, h, finance.CollectionTransactions, userID, fn)
}
