// Package finance holds the MittiMoney domain records and the rules that keep
// them consistent: balance adjustment, debt repayment and savings streaks.
// Amounts use decimal arithmetic throughout.
package finance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Collection names shared by the Local Store, the sync queue and every
// remote backend.
const (
	CollectionUsers        = "users"
	CollectionTransactions = "transactions"
	CollectionDebts        = "debts"
	CollectionSavingsJars  = "savings_jars"
)

// SyncStatus tells whether the local copy matches a confirmed remote write.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// Operation is the kind of mutation recorded in the sync queue.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// LocalOnlyFields are JSON keys that never leave the device.
var LocalOnlyFields = []string{"syncStatus"}

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrInvalidMethod = errors.New("invalid payment method")
	ErrJarCompleted  = errors.New("savings jar already completed")
	ErrJarNotPaused  = errors.New("savings jar is not paused")
	ErrMissingOwner  = errors.New("owner user id is required")
)

// Entity is implemented by every record the Local Store persists.
type Entity interface {
	EntityID() string
	OwnerID() string
	Collection() string
	// Tag is the collection's secondary lookup key: phone number for users,
	// type for transactions, status for debts and jars.
	Tag() string
	// Recency orders records newest first in index queries.
	Recency() time.Time
	SetSyncStatus(SyncStatus)
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// dayIndex counts calendar days since the epoch in loc.
func dayIndex(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
