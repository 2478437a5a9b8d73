package finance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// Transaction is one logged income or expense.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	VoiceTranscript string          `json:"voiceTranscript,omitempty"`
	VoiceLanguage   string          `json:"voiceLanguage,omitempty"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Date            time.Time       `json:"date"`
	CreatedAt       time.Time       `json:"createdAt"`
	SyncStatus      SyncStatus      `json:"syncStatus"`
}

// TransactionInput carries the user-provided fields of a new transaction.
type TransactionInput struct {
	Type            TransactionType
	Amount          decimal.Decimal
	Category        string
	Description     string
	VoiceTranscript string
	VoiceLanguage   string
	PaymentMethod   PaymentMethod
	// Date defaults to now when zero.
	Date time.Time
}

func NewTransaction(userID string, in TransactionInput, now time.Time) (*Transaction, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}
	if in.Type != TypeIncome && in.Type != TypeExpense {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if err := requirePositive(in.Amount); err != nil {
		return nil, err
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentCash
	}
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, in.PaymentMethod)
	}
	if in.Category == "" {
		in.Category = "other"
	}
	date := in.Date
	if date.IsZero() {
		date = now
	}
	return &Transaction{
		ID:              uuid.NewString(),
		UserID:          userID,
		Type:            in.Type,
		Amount:          in.Amount,
		Category:        in.Category,
		Description:     in.Description,
		VoiceTranscript: in.VoiceTranscript,
		VoiceLanguage:   in.VoiceLanguage,
		PaymentMethod:   in.PaymentMethod,
		Date:            date,
		CreatedAt:       now,
		SyncStatus:      SyncPending,
	}, nil
}

func (t *Transaction) EntityID() string           { return t.ID }
func (t *Transaction) OwnerID() string            { return t.UserID }
func (t *Transaction) Collection() string         { return CollectionTransactions }
func (t *Transaction) Tag() string                { return string(t.Type) }
func (t *Transaction) Recency() time.Time         { return t.Date }
func (t *Transaction) SetSyncStatus(s SyncStatus) { t.SyncStatus = s }
