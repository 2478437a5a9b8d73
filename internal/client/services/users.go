package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/finance"
)

var (
	ErrPhoneRequired    = errors.New("phone number is required")
	ErrAlreadyOnboarded = errors.New("user is already onboarded")
)

type OnboardInput struct {
	// ID is the identity from the auth provider; empty assigns a new one.
	ID           string
	PhoneNumber  string
	Name         string
	Language     string
	IncomeSource string
}

// Onboard creates the user's profile. An identity that already has a
// profile is rejected with ErrAlreadyOnboarded; use UpdateProfile instead.
func (h *Hooks) Onboard(ctx context.Context, in OnboardInput) (*finance.User, error) {
	if in.PhoneNumber == "" {
		return nil, ErrPhoneRequired
	}
	if in.ID != "" {
		_, err := h.User(ctx, in.ID)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s", ErrAlreadyOnboarded, in.ID)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	u := finance.NewUser(in.ID, in.PhoneNumber, in.Name, in.Language, h.now())
	u.IncomeSource = in.IncomeSource
	u.OnboardingComplete = true

	if err := h.commit(ctx, store.Mutation{Op: finance.OpCreate, Entity: u}); err != nil {
		return nil, err
	}
	return u, nil
}

func (h *Hooks) User(ctx context.Context, id string) (*finance.User, error) {
	return get[finance.User](ctx, h, finance.CollectionUsers, id)
}

// ProfileUpdate changes only the non-nil fields.
type ProfileUpdate struct {
	Name         *string
	Language     *string
	IncomeSource *string
	Features     map[string]bool
}

func (h *Hooks) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*finance.User, error) {
	u, err := h.User(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Language != nil {
		u.Language = *p.Language
	}
	if p.IncomeSource != nil {
		u.IncomeSource = *p.IncomeSource
	}
	for k, v := range p.Features {
		if u.Features == nil {
			u.Features = map[string]bool{}
		}
		u.Features[k] = v
	}
	u.UpdatedAt = h.now()

	if err := h.commit(ctx, store.Mutation{Op: finance.OpUpdate, Entity: u}); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}
