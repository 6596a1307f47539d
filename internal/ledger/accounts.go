package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/storage"
)

// CreateAccount creates an account for the user. The first account a user
// creates is always the default; when a later account is created as default,
// all existing defaults are cleared and the new one set inside the same
// transaction, so exactly one default exists once the user has any account.
func (m *Mutator) CreateAccount(ctx context.Context, userID, name string, opening core.Money, isDefault bool) (core.Account, error) {
	account := core.Account{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Balance:   opening,
		IsDefault: isDefault,
	}
	if err := account.Validate(); err != nil {
		return core.Account{}, err
	}

	now := m.now()
	err := m.repo.ExecTx(ctx, func(q *storage.Queries) error {
		count, err := q.CountAccounts(ctx, userID)
		if err != nil {
			return err
		}
		if count == 0 {
			account.IsDefault = true
		}
		if account.IsDefault {
			if err := q.ClearDefaultAccounts(ctx, userID, now); err != nil {
				return err
			}
		}
		return q.CreateAccount(ctx, storage.CreateAccountParams{
			ID:           account.ID,
			UserID:       userID,
			Name:         account.Name,
			BalanceCents: account.Balance.Cents,
			IsDefault:    account.IsDefault,
			Now:          now,
		})
	})
	if err != nil {
		return core.Account{}, err
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	slog.InfoContext(ctx, "Account created",
		"account_id", account.ID,
		"user_id", userID,
		"default", account.IsDefault)

	return account, nil
}

// SetDefaultAccount moves the default flag to the given account. Clearing
// the old default and setting the new one is one atomic step, never
// read-then-write, so two racing transitions cannot leave zero or two
// defaults behind.
func (m *Mutator) SetDefaultAccount(ctx context.Context, userID, accountID string) (core.Account, error) {
	now := m.now()
	var account core.Account

	err := m.repo.ExecTx(ctx, func(q *storage.Queries) error {
		if _, err := q.GetAccount(ctx, accountID, userID); err != nil {
			return err
		}
		if err := q.ClearDefaultAccounts(ctx, userID, now); err != nil {
			return err
		}
		if err := q.SetAccountDefault(ctx, accountID, userID, now); err != nil {
			// The row existed at the start of this transaction; it vanishing
			// mid-transition means a concurrent delete won the race.
			return fmt.Errorf("default transition for account %s: %w", accountID, core.ErrConflict)
		}
		var err error
		account, err = q.GetAccount(ctx, accountID, userID)
		return err
	})
	if err != nil {
		return core.Account{}, err
	}

	slog.InfoContext(ctx, "Default account changed", "account_id", accountID, "user_id", userID)
	return account, nil
}
