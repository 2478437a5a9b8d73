package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DebtStatus string

const (
	DebtActive  DebtStatus = "active"
	DebtPaidOff DebtStatus = "paid_off"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type DebtPayment struct {
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	Note   string          `json:"note,omitempty"`
}

// Debt tracks money owed to a lender. RemainingAmount always lies within
// [0, TotalAmount] and Status is paid_off exactly when it is zero.
type Debt struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	Name            string           `json:"name"`
	Lender          string           `json:"lender"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	RemainingAmount decimal.Decimal  `json:"remainingAmount"`
	Urgency         Urgency          `json:"urgency"`
	DueDate         *time.Time       `json:"dueDate,omitempty"`
	InterestRate    *decimal.Decimal `json:"interestRate,omitempty"`
	MonthlyPayment  *decimal.Decimal `json:"monthlyPayment,omitempty"`
	Payments        []DebtPayment    `json:"payments"`
	Status          DebtStatus       `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	SyncStatus      SyncStatus       `json:"syncStatus"`
}

type DebtInput struct {
	Name            string
	Lender          string
	TotalAmount     decimal.Decimal
	RemainingAmount *decimal.Decimal // nil means nothing repaid yet
	Urgency         Urgency
	DueDate         *time.Time
	InterestRate    *decimal.Decimal
	MonthlyPayment  *decimal.Decimal
}

func NewDebt(userID string, in DebtInput, now time.Time) (*Debt, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}
	if err := requirePositive(in.TotalAmount); err != nil {
		return nil, err
	}
	remaining := in.TotalAmount
	if in.RemainingAmount != nil {
		remaining = *in.RemainingAmount
	}
	if in.Urgency == "" {
		in.Urgency = UrgencyMedium
	}
	d := &Debt{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            in.Name,
		Lender:          in.Lender,
		TotalAmount:     in.TotalAmount,
		RemainingAmount: clamp(remaining, decimal.Zero, in.TotalAmount),
		Urgency:         in.Urgency,
		DueDate:         in.DueDate,
		InterestRate:    in.InterestRate,
		MonthlyPayment:  in.MonthlyPayment,
		Payments:        []DebtPayment{},
		CreatedAt:       now,
		UpdatedAt:       now,
		SyncStatus:      SyncPending,
	}
	d.refreshStatus()
	return d, nil
}

func (d *Debt) EntityID() string           { return d.ID }
func (d *Debt) OwnerID() string            { return d.UserID }
func (d *Debt) Collection() string         { return CollectionDebts }
func (d *Debt) Tag() string                { return string(d.Status) }
func (d *Debt) Recency() time.Time         { return d.UpdatedAt }
func (d *Debt) SetSyncStatus(s SyncStatus) { d.SyncStatus = s }

// ApplyRepayment records a payment and lowers the remaining amount, never
// below zero. Overpayment is recorded as paid but only clears the balance.
func (d *Debt) ApplyRepayment(amount decimal.Decimal, at time.Time, note string) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	d.Payments = append(d.Payments, DebtPayment{Amount: amount, Date: at, Note: note})
	d.RemainingAmount = clamp(d.RemainingAmount.Sub(amount), decimal.Zero, d.TotalAmount)
	d.UpdatedAt = at
	d.SyncStatus = SyncPending
	d.refreshStatus()
	return nil
}

// PaidAmount is the principal cleared so far.
func (d *Debt) PaidAmount() decimal.Decimal {
	return d.TotalAmount.Sub(d.RemainingAmount)
}

func (d *Debt) refreshStatus() {
	if d.RemainingAmount.IsZero() {
		d.Status = DebtPaidOff
	} else {
		d.Status = DebtActive
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(v, lo), hi)
}
