package ledger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"tally/internal/core"
)

// UpsertBudget sets the user's single monthly budget threshold, creating
// the row on first use. The alert watermark is left untouched so raising a
// budget mid-month does not re-arm an alert that already fired.
func (m *Mutator) UpsertBudget(ctx context.Context, userID string, amount core.Money) error {
	if err := amount.Validate(); err != nil {
		return err
	}

	err := m.repo.Queries().UpsertBudget(ctx, uuid.New().String(), userID, amount.Cents, m.now())
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Budget set", "user_id", userID, "amount_cents", amount.Cents)
	return nil
}
