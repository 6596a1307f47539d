// Package ledger applies transaction mutations together with their
// compensating account-balance deltas. Every operation is one atomic unit:
// the transaction row change and the balance change commit or roll back
// together, and balance updates are SQL increments so concurrent callers
// never lose a delta.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/storage"
)

type Mutator struct {
	repo *storage.SQLiteRepository
	now  func() time.Time
}

func NewMutator(repo *storage.SQLiteRepository) *Mutator {
	return &Mutator{repo: repo, now: time.Now}
}

// Create inserts a transaction and applies its signed amount to the owning
// account. A recurring transaction gets its first NextRecurringDate computed
// from the transaction date.
func (m *Mutator) Create(ctx context.Context, userID string, t core.Transaction) (core.Transaction, error) {
	t.UserID = userID
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = core.StatusCompleted
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if t.IsRecurring {
		next := core.NextOccurrence(t.Date, t.RecurringInterval)
		t.NextRecurringDate = &next
	} else {
		t.NextRecurringDate = nil
	}

	now := m.now()
	err := m.repo.ExecTx(ctx, func(q *storage.Queries) error {
		if _, err := q.GetAccount(ctx, t.AccountID, userID); err != nil {
			return err
		}
		if err := q.CreateTransaction(ctx, t, now); err != nil {
			return err
		}
		return q.AddAccountBalance(ctx, t.AccountID, userID, t.SignedAmount().Cents, now)
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", t.ID,
		"account_id", t.AccountID,
		"kind", t.Kind,
		"amount_cents", t.Amount.Cents,
		"recurring", t.IsRecurring)

	return t, nil
}

// Update rewrites a transaction and applies the net delta (new signed amount
// minus old signed amount) to the original account. Reassigning a
// transaction to a different account is unsupported and fails validation.
// If the transaction is recurring after the update, the next occurrence is
// recomputed from the current date, not the original one.
func (m *Mutator) Update(ctx context.Context, userID, id string, upd core.Transaction) (core.Transaction, error) {
	now := m.now()
	var result core.Transaction

	err := m.repo.ExecTx(ctx, func(q *storage.Queries) error {
		orig, err := q.GetTransaction(ctx, id, userID)
		if err != nil {
			return err
		}
		if upd.AccountID != "" && upd.AccountID != orig.AccountID {
			return fmt.Errorf("%w: transaction account cannot be changed", core.ErrInvalidInput)
		}

		next := orig
		next.Kind = upd.Kind
		next.Amount = upd.Amount
		next.Date = upd.Date
		next.Category = upd.Category
		next.Description = upd.Description
		next.IsRecurring = upd.IsRecurring
		next.RecurringInterval = upd.RecurringInterval
		if upd.Status != "" {
			next.Status = upd.Status
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if next.IsRecurring {
			nd := core.NextOccurrence(now, next.RecurringInterval)
			next.NextRecurringDate = &nd
		} else {
			next.NextRecurringDate = nil
		}

		delta := next.SignedAmount().Cents - orig.SignedAmount().Cents
		if err := q.UpdateTransaction(ctx, next, now); err != nil {
			return err
		}
		if err := q.AddAccountBalance(ctx, orig.AccountID, userID, delta, now); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction updated",
		"transaction_id", id,
		"account_id", result.AccountID,
		"amount_cents", result.Amount.Cents)

	return result, nil
}

// BulkDelete removes a set of transactions and reverses their balance
// effects. Reversal deltas are accumulated per account and each account gets
// exactly one aggregated balance update, so deleting many rows on one
// account never turns into a chain of per-row increments.
func (m *Mutator) BulkDelete(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no transaction ids", core.ErrInvalidInput)
	}

	now := m.now()
	err := m.repo.ExecTx(ctx, func(q *storage.Queries) error {
		txns, err := q.GetTransactionsByIDs(ctx, ids, userID)
		if err != nil {
			return err
		}
		if len(txns) == 0 {
			return fmt.Errorf("transactions: %w", core.ErrNotFound)
		}

		deltas := make(map[string]int64)
		for _, t := range txns {
			deltas[t.AccountID] -= t.SignedAmount().Cents
		}

		if _, err := q.DeleteTransactions(ctx, ids, userID); err != nil {
			return err
		}
		for accountID, delta := range deltas {
			if err := q.AddAccountBalance(ctx, accountID, userID, delta, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transactions deleted", "count", len(ids), "user_id", userID)
	return nil
}
