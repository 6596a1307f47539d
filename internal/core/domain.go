package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  Kind = "INCOME"
	Expense Kind = "EXPENSE"
)

const (
	Daily   Interval = "DAILY"
	Weekly  Interval = "WEEKLY"
	Monthly Interval = "MONTHLY"
	Yearly  Interval = "YEARLY"
)

const (
	// StatusCompleted is the only status that participates in recurrence.
	StatusCompleted Status = "COMPLETED"
	StatusPending   Status = "PENDING"
)

type (
	// Kind is the sign of a transaction: INCOME adds to the account
	// balance, EXPENSE subtracts from it.
	Kind string

	// Interval is the calendar cadence of a recurring transaction.
	Interval string

	Status string

	User struct {
		ID        string
		Email     string
		Name      string
		CreatedAt time.Time
	}

	Account struct {
		ID        string
		UserID    string
		Name      string
		Balance   Money
		IsDefault bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Transaction struct {
		ID                string
		UserID            string
		AccountID         string
		Kind              Kind
		Amount            Money
		Date              time.Time
		Category          string
		Description       string
		IsRecurring       bool
		RecurringInterval Interval // empty unless IsRecurring
		NextRecurringDate *time.Time
		LastProcessed     *time.Time
		Status            Status
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	// Budget is a one-per-user monthly expense threshold. LastAlertSent is
	// a watermark: only its month/year component is ever compared.
	Budget struct {
		ID            string
		UserID        string
		Amount        Money
		LastAlertSent *time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}
)

var (
	// ErrNotFound marks an entity that is absent or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks malformed input (date, interval, field values).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidAmount marks a non-positive or unparseable amount.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrInvalidInput)
	// ErrConflict marks an invariant violation, e.g. a default-account race.
	ErrConflict = errors.New("conflict")
)

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (iv Interval) Valid() bool {
	switch iv {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: empty account name", ErrInvalidInput)
	}
	if a.Balance.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the fields a caller controls. The recurring invariant is
// IsRecurring == true exactly when RecurringInterval is set.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, t.Kind)
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidInput)
	}
	if t.AccountID == "" {
		return fmt.Errorf("%w: missing account", ErrInvalidInput)
	}
	if len(t.Description) > 200 {
		return fmt.Errorf("%w: description too long (max 200 characters)", ErrInvalidInput)
	}
	if t.IsRecurring != (t.RecurringInterval != "") {
		return fmt.Errorf("%w: recurring flag and interval must be set together", ErrInvalidInput)
	}
	if t.IsRecurring && !t.RecurringInterval.Valid() {
		return fmt.Errorf("%w: unknown interval %q", ErrInvalidInput, t.RecurringInterval)
	}
	return nil
}

// SignedAmount is the amount with sign applied per kind: EXPENSE negative,
// INCOME positive.
func (t Transaction) SignedAmount() Money {
	if t.Kind == Expense {
		return Money{Cents: -t.Amount.Cents}
	}
	return t.Amount
}
