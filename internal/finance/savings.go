package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type JarStatus string

const (
	JarActive    JarStatus = "active"
	JarCompleted JarStatus = "completed"
	JarPaused    JarStatus = "paused"
)

// Streak counts consecutive calendar days with at least one deposit.
type Streak struct {
	Current       int    `json:"current"`
	Longest       int    `json:"longest"`
	LastSavedDate string `json:"lastSavedDate,omitempty"` // YYYY-MM-DD in the saver's zone
}

type Deposit struct {
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
	Note   string          `json:"note,omitempty"`
}

// SavingsJar is a savings goal. CurrentAmount only grows and Status is
// completed exactly when CurrentAmount reaches TargetAmount.
type SavingsJar struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Name          string          `json:"name"`
	Goal          string          `json:"goal"`
	TargetAmount  decimal.Decimal `json:"targetAmount"`
	CurrentAmount decimal.Decimal `json:"currentAmount"`
	Streak        Streak          `json:"streak"`
	Deposits      []Deposit       `json:"deposits"`
	Status        JarStatus       `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	SyncStatus    SyncStatus      `json:"syncStatus"`
}

func NewSavingsJar(userID, name, goal string, target decimal.Decimal, now time.Time) (*SavingsJar, error) {
	if userID == "" {
		return nil, ErrMissingOwner
	}
	if err := requirePositive(target); err != nil {
		return nil, err
	}
	return &SavingsJar{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          name,
		Goal:          goal,
		TargetAmount:  target,
		CurrentAmount: decimal.Zero,
		Deposits:      []Deposit{},
		Status:        JarActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		SyncStatus:    SyncPending,
	}, nil
}

func (j *SavingsJar) EntityID() string           { return j.ID }
func (j *SavingsJar) OwnerID() string            { return j.UserID }
func (j *SavingsJar) Collection() string         { return CollectionSavingsJars }
func (j *SavingsJar) Tag() string                { return string(j.Status) }
func (j *SavingsJar) Recency() time.Time         { return j.UpdatedAt }
func (j *SavingsJar) SetSyncStatus(s SyncStatus) { j.SyncStatus = s }

// Deposit adds amount and advances the streak using calendar days in loc.
// A deposit the day after the last one extends the streak, a gap of more
// than one day restarts it at 1 and a repeat on the same day leaves it.
func (j *SavingsJar) Deposit(amount decimal.Decimal, now time.Time, loc *time.Location, note string) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}

	j.CurrentAmount = j.CurrentAmount.Add(amount)
	j.Deposits = append(j.Deposits, Deposit{Amount: amount, Date: now, Note: note})
	j.advanceStreak(now, loc)

	if j.CurrentAmount.GreaterThanOrEqual(j.TargetAmount) {
		j.Status = JarCompleted
	}
	j.UpdatedAt = now
	j.SyncStatus = SyncPending
	return nil
}

func (j *SavingsJar) advanceStreak(now time.Time, loc *time.Location) {
	today := now.In(loc).Format(time.DateOnly)

	last, err := time.ParseInLocation(time.DateOnly, j.Streak.LastSavedDate, loc)
	switch {
	case j.Streak.LastSavedDate == "" || err != nil:
		j.Streak.Current = 1
	default:
		switch gap := dayIndex(now, loc) - dayIndex(last, loc); {
		case gap == 1:
			j.Streak.Current++
		case gap > 1:
			j.Streak.Current = 1
		}
		// gap <= 0: same day (or a clock step back) keeps the streak
	}

	if j.Streak.Current > j.Streak.Longest {
		j.Streak.Longest = j.Streak.Current
	}
	j.Streak.LastSavedDate = today
}

// Pause stops an active jar from counting towards goals.
func (j *SavingsJar) Pause(now time.Time) error {
	if j.Status == JarCompleted {
		return ErrJarCompleted
	}
	j.Status = JarPaused
	j.UpdatedAt = now
	j.SyncStatus = SyncPending
	return nil
}

func (j *SavingsJar) Resume(now time.Time) error {
	if j.Status != JarPaused {
		return ErrJarNotPaused
	}
	j.Status = JarActive
	j.UpdatedAt = now
	j.SyncStatus = SyncPending
	return nil
}

// Progress is the completed share of the target in [0, 1].
func (j *SavingsJar) Progress() decimal.Decimal {
	return decimal.Min(j.CurrentAmount.Div(j.TargetAmount), decimal.NewFromInt(1))
}
