// Package alerts holds the read-only consumers of ledger state: the budget
// alert monitor and the monthly report job. Both are driven by an external
// periodic trigger; the cadence lives in configuration, not here.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/notify"
)

// alertThreshold is the budget usage percentage at which an alert fires.
var alertThreshold = decimal.NewFromInt(80)

// BudgetStore is the slice of the read model the monitor needs.
// *storage.Queries satisfies it.
type BudgetStore interface {
	ListBudgets(ctx context.Context) ([]core.Budget, error)
	GetDefaultAccount(ctx context.Context, userID string) (core.Account, error)
	GetUser(ctx context.Context, id string) (core.User, error)
	SumExpenses(ctx context.Context, accountID, userID string, from, to time.Time) (int64, error)
	SetBudgetLastAlertSent(ctx context.Context, id string, at time.Time) error
}

type Monitor struct {
	store    BudgetStore
	sender   notify.Sender
	scanGoro int
}

func NewMonitor(store BudgetStore, sender notify.Sender) *Monitor {
	return &Monitor{store: store, sender: sender, scanGoro: 4}
}

// Run scans every budget once. A budget alerts when the default account's
// expenses for the current calendar month reach 80% of the threshold and
// the lastAlertSent watermark is from an earlier month: at most one alert
// per budget per calendar month, however often the monitor runs.
func (m *Monitor) Run(ctx context.Context, now time.Time) (int, error) {
	budgets, err := m.store.ListBudgets(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.scanGoro)
	results := make(chan struct{}, len(budgets))

	for _, budget := range budgets {
		g.Go(func() error {
			fired, err := m.checkBudget(ctx, budget, now)
			if err != nil {
				return err
			}
			if fired {
				results <- struct{}{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(results)
	for range results {
		sent++
	}
	return sent, nil
}

func (m *Monitor) checkBudget(ctx context.Context, budget core.Budget, now time.Time) (bool, error) {
	if budget.Amount.Cents <= 0 {
		return false, nil
	}

	account, err := m.store.GetDefaultAccount(ctx, budget.UserID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	start, end := core.MonthBounds(now)
	totalCents, err := m.store.SumExpenses(ctx, account.ID, budget.UserID, start, end)
	if err != nil {
		return false, err
	}

	pct := decimal.NewFromInt(totalCents).
		Div(decimal.NewFromInt(budget.Amount.Cents)).
		Mul(decimal.NewFromInt(100))

	if pct.LessThan(alertThreshold) {
		return false, nil
	}
	if budget.LastAlertSent != nil && core.SameMonth(*budget.LastAlertSent, now) {
		return false, nil
	}

	user, err := m.store.GetUser(ctx, budget.UserID)
	if err != nil {
		return false, err
	}

	msg := notify.Message{
		To:      user.Email,
		Subject: fmt.Sprintf("Budget Alert for %s", account.Name),
		HTML: budgetAlertHTML(user.Name, account.Name, pct,
			budget.Amount, core.Money{Cents: totalCents}),
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		// Logged, not retried: the watermark stays unset, so the next scan
		// in this month will attempt the alert again.
		slog.ErrorContext(ctx, "Budget alert send failed",
			"budget_id", budget.ID,
			"user_id", budget.UserID,
			"error", err)
		return false, nil
	}

	if err := m.store.SetBudgetLastAlertSent(ctx, budget.ID, now); err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "Budget alert sent",
		"budget_id", budget.ID,
		"user_id", budget.UserID,
		"percentage_used", pct.StringFixed(1))
	return true, nil
}

func budgetAlertHTML(userName, accountName string, pct decimal.Decimal, budget, total core.Money) string {
	return fmt.Sprintf(`<h2>Budget Alert</h2>
<p>Hi %s,</p>
<p>You have used %s%% of the budget on your %s account this month.</p>
<ul>
  <li>Budget: %s</li>
  <li>Spent so far: %s</li>
</ul>`, userName, pct.StringFixed(1), accountName, budget, total)
}
