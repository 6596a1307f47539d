// Package schedule drives recurring transactions: a periodic discovery scan
// finds due templates and fans them out as independent work items, and the
// per-item processor generates the occurrence idempotently. A transaction is
// due by date comparison (core.IsDue), never by elapsed-interval counting,
// so a missed scan fires exactly once on the next run.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/storage"
)

// Dispatcher hands a work descriptor to the at-least-once transport.
// Delivery may be duplicated or reordered; ProcessDue compensates.
type Dispatcher interface {
	DispatchProcessRecurring(ctx context.Context, transactionID, userID string) error
}

type Scheduler struct {
	repo        *storage.SQLiteRepository
	dispatcher  Dispatcher
	fanOutLimit int
}

func NewScheduler(repo *storage.SQLiteRepository, dispatcher Dispatcher, fanOutLimit int) *Scheduler {
	if fanOutLimit <= 0 {
		fanOutLimit = 8
	}
	return &Scheduler{repo: repo, dispatcher: dispatcher, fanOutLimit: fanOutLimit}
}

// Run performs one discovery scan: select every due recurring transaction
// and dispatch one (transactionID, userID) descriptor each. Dispatching the
// same due transaction twice is harmless.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (int, error) {
	refs, err := s.repo.Queries().ListDueRecurring(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Fanning out due recurring transactions", "count", len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOutLimit)
	for _, ref := range refs {
		g.Go(func() error {
			return s.dispatcher.DispatchProcessRecurring(ctx, ref.TransactionID, ref.UserID)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(refs), nil
}
