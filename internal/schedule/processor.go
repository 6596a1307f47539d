package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/storage"
)

type Processor struct {
	repo *storage.SQLiteRepository
	now  func() time.Time
}

func NewProcessor(repo *storage.SQLiteRepository) *Processor {
	return &Processor{repo: repo, now: time.Now}
}

// ProcessDue applies one due recurring transaction. The due predicate is
// re-checked inside the same database transaction that inserts the generated
// occurrence, applies the balance delta and advances the template, so a
// duplicate delivery sees the advanced next date and no-ops. A crash before
// commit leaves the template exactly as it was.
//
// Returns true when an occurrence was generated, false on a no-op.
func (p *Processor) ProcessDue(ctx context.Context, transactionID, userID string) (bool, error) {
	now := p.now()
	created := false

	err := p.repo.ExecTx(ctx, func(q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, transactionID, userID)
		if errors.Is(err, core.ErrNotFound) {
			// Deleted or reassigned since fan-out; nothing to apply.
			return nil
		}
		if err != nil {
			return err
		}
		if !t.Due(now) {
			return nil
		}

		occurrence := core.Transaction{
			ID:          uuid.New().String(),
			UserID:      t.UserID,
			AccountID:   t.AccountID,
			Kind:        t.Kind,
			Amount:      t.Amount,
			Date:        now,
			Category:    t.Category,
			Description: t.Description + " (Recurring)",
			Status:      core.StatusCompleted,
		}
		if err := q.CreateTransaction(ctx, occurrence, now); err != nil {
			return err
		}
		if err := q.AddAccountBalance(ctx, t.AccountID, userID, occurrence.SignedAmount().Cents, now); err != nil {
			return err
		}
		next := core.NextOccurrence(now, t.RecurringInterval)
		if err := q.MarkProcessed(ctx, t.ID, now, next, now); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		slog.InfoContext(ctx, "Generated recurring occurrence",
			"template_id", transactionID,
			"user_id", userID)
	} else {
		slog.DebugContext(ctx, "Recurring transaction not due, skipping",
			"template_id", transactionID,
			"user_id", userID)
	}
	return created, nil
}
