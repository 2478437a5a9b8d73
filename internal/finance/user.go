package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentBank PaymentMethod = "bank"
	PaymentUPI  PaymentMethod = "upi"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentBank, PaymentUPI:
		return true
	}
	return false
}

// User is the single profile record per identity.
type User struct {
	ID                 string          `json:"id"`
	PhoneNumber        string          `json:"phoneNumber"`
	Name               string          `json:"name"`
	Language           string          `json:"language"`
	IncomeSource       string          `json:"incomeSource"`
	CashBalance        decimal.Decimal `json:"cashBalance"`
	BankBalance        decimal.Decimal `json:"bankBalance"`
	Features           map[string]bool `json:"features"`
	OnboardingComplete bool            `json:"onboardingComplete"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	SyncStatus         SyncStatus      `json:"syncStatus"`
}

// NewUser creates a profile at onboarding. An empty id gets a fresh UUID.
func NewUser(id, phone, name, language string, now time.Time) *User {
	if id == "" {
		id = uuid.NewString()
	}
	if language == "" {
		language = "en"
	}
	return &User{
		ID:          id,
		PhoneNumber: phone,
		Name:        name,
		Language:    language,
		CashBalance: decimal.Zero,
		BankBalance: decimal.Zero,
		Features:    map[string]bool{"voice": true, "savings": true, "debts": true},
		CreatedAt:   now,
		UpdatedAt:   now,
		SyncStatus:  SyncPending,
	}
}

func (u *User) EntityID() string           { return u.ID }
func (u *User) OwnerID() string            { return u.ID }
func (u *User) Collection() string         { return CollectionUsers }
func (u *User) Tag() string                { return u.PhoneNumber }
func (u *User) Recency() time.Time         { return u.UpdatedAt }
func (u *User) SetSyncStatus(s SyncStatus) { u.SyncStatus = s }

// ApplyTransaction moves the balance that tx was paid from or into.
// Cash payments touch the cash balance, bank and UPI payments the bank
// balance. An unknown payment method leaves both balances alone.
func (u *User) ApplyTransaction(tx *Transaction, now time.Time) {
	delta := tx.Amount
	if tx.Type == TypeExpense {
		delta = delta.Neg()
	}
	switch tx.PaymentMethod {
	case PaymentCash:
		u.CashBalance = u.CashBalance.Add(delta)
	case PaymentBank, PaymentUPI:
		u.BankBalance = u.BankBalance.Add(delta)
	default:
		return
	}
	u.UpdatedAt = now
	u.SyncStatus = SyncPending
}

// TotalBalance is cash plus bank.
func (u *User) TotalBalance() decimal.Decimal {
	return u.CashBalance.Add(u.BankBalance)
}
