package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/core"
)

var seedNow = time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC)

func newTestQueries(t *testing.T) (*SQLiteRepository, *Queries) {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	q := repo.Queries()
	if err := q.EnsureUser(ctx, "user-1", "user@example.com", "Test User", seedNow); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := q.CreateAccount(ctx, CreateAccountParams{
		ID: "acct-1", UserID: "user-1", Name: "Checking",
		BalanceCents: 10000, IsDefault: true, Now: seedNow,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return repo, q
}

func seedTxn(t *testing.T, q *Queries, txn core.Transaction) core.Transaction {
	t.Helper()
	if txn.UserID == "" {
		txn.UserID = "user-1"
	}
	if txn.AccountID == "" {
		txn.AccountID = "acct-1"
	}
	if txn.Status == "" {
		txn.Status = core.StatusCompleted
	}
	if txn.Date.IsZero() {
		txn.Date = seedNow
	}
	if err := q.CreateTransaction(context.Background(), txn, seedNow); err != nil {
		t.Fatalf("seed transaction %s: %v", txn.ID, err)
	}
	return txn
}

func TestEnsureUser_Idempotent(t *testing.T) {
	_, q := newTestQueries(t)
	ctx := context.Background()

	// Second call with different details must not overwrite the first.
	if err := q.EnsureUser(ctx, "user-1", "other@example.com", "Other", seedNow.Add(time.Hour)); err != nil {
		t.Fatalf("second EnsureUser: %v", err)
	}
	user, err := q.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Email != "user@example.com" {
		t.Errorf("email = %q, want original preserved", user.Email)
	}
}

func TestTransactionTimestampsRoundTrip(t *testing.T) {
	_, q := newTestQueries(t)
	ctx := context.Background()

	next := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	seedTxn(t, q, core.Transaction{
		ID:                "txn-1",
		Kind:              core.Expense,
		Amount:            core.Money{Cents: 999},
		Date:              time.Date(2025, 4, 12, 18, 30, 5, 0, time.UTC),
		Category:          "food",
		Description:       "Dinner",
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
		NextRecurringDate: &next,
		LastProcessed:     &last,
	})

	got, err := q.GetTransaction(ctx, "txn-1", "user-1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !got.Date.Equal(time.Date(2025, 4, 12, 18, 30, 5, 0, time.UTC)) {
		t.Errorf("date round trip = %v", got.Date)
	}
	if got.NextRecurringDate == nil || !got.NextRecurringDate.Equal(next) {
		t.Errorf("next date round trip = %v", got.NextRecurringDate)
	}
	if got.LastProcessed == nil || !got.LastProcessed.Equal(last) {
		t.Errorf("last processed round trip = %v", got.LastProcessed)
	}
	if got.RecurringInterval != core.Monthly {
		t.Errorf("interval = %q", got.RecurringInterval)
	}
	if got.Amount.Cents != 999 {
		t.Errorf("amount = %d", got.Amount.Cents)
	}
}

func TestListDueRecurring(t *testing.T) {
	_, q := newTestQueries(t)
	ctx := context.Background()

	past := seedNow.AddDate(0, 0, -1)
	future := seedNow.AddDate(0, 0, 10)

	seedTxn(t, q, core.Transaction{ // never processed: due
		ID: "due-never", Kind: core.Expense, Amount: core.Money{Cents: 100},
		IsRecurring: true, RecurringInterval: core.Monthly,
	})
	seedTxn(t, q, core.Transaction{ // next date arrived: due
		ID: "due-date", Kind: core.Expense, Amount: core.Money{Cents: 100},
		IsRecurring: true, RecurringInterval: core.Weekly,
		NextRecurringDate: &past, LastProcessed: &past,
	})
	seedTxn(t, q, core.Transaction{ // future next date: not due
		ID: "not-due", Kind: core.Expense, Amount: core.Money{Cents: 100},
		IsRecurring: true, RecurringInterval: core.Daily,
		NextRecurringDate: &future, LastProcessed: &past,
	})
	seedTxn(t, q, core.Transaction{ // pending: not due
		ID: "pending", Kind: core.Expense, Amount: core.Money{Cents: 100},
		IsRecurring: true, RecurringInterval: core.Monthly,
		Status: core.StatusPending,
	})
	seedTxn(t, q, core.Transaction{ // plain transaction: not a template
		ID: "plain", Kind: core.Expense, Amount: core.Money{Cents: 100},
	})

	refs, err := q.ListDueRecurring(ctx, seedNow)
	if err != nil {
		t.Fatalf("list due recurring: %v", err)
	}

	got := make(map[string]bool, len(refs))
	for _, ref := range refs {
		got[ref.TransactionID] = true
		if ref.UserID != "user-1" {
			t.Errorf("ref user = %q", ref.UserID)
		}
	}
	if len(got) != 2 || !got["due-never"] || !got["due-date"] {
		t.Errorf("due set = %v, want {due-never, due-date}", got)
	}
}

func TestSumExpenses_WindowAndKind(t *testing.T) {
	_, q := newTestQueries(t)

	inWindow := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	outOfWindow := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	seedTxn(t, q, core.Transaction{ID: "e1", Kind: core.Expense, Amount: core.Money{Cents: 1500}, Date: inWindow})
	seedTxn(t, q, core.Transaction{ID: "e2", Kind: core.Expense, Amount: core.Money{Cents: 500}, Date: inWindow})
	seedTxn(t, q, core.Transaction{ID: "i1", Kind: core.Income, Amount: core.Money{Cents: 9000}, Date: inWindow})
	seedTxn(t, q, core.Transaction{ID: "e3", Kind: core.Expense, Amount: core.Money{Cents: 700}, Date: outOfWindow})

	from, to := core.MonthBounds(seedNow)
	total, err := q.SumExpenses(context.Background(), "acct-1", "user-1", from, to)
	if err != nil {
		t.Fatalf("sum expenses: %v", err)
	}
	if total != 2000 {
		t.Errorf("total = %d, want 2000", total)
	}
}

func TestGetMonthlyStats(t *testing.T) {
	_, q := newTestQueries(t)

	date := time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)
	seedTxn(t, q, core.Transaction{ID: "s1", Kind: core.Income, Amount: core.Money{Cents: 300000}, Date: date, Category: "salary"})
	seedTxn(t, q, core.Transaction{ID: "s2", Kind: core.Expense, Amount: core.Money{Cents: 80000}, Date: date, Category: "housing"})
	seedTxn(t, q, core.Transaction{ID: "s3", Kind: core.Expense, Amount: core.Money{Cents: 20000}, Date: date, Category: "housing"})
	seedTxn(t, q, core.Transaction{ID: "s4", Kind: core.Expense, Amount: core.Money{Cents: 10000}, Date: date, Category: "food"})

	from, to := core.MonthBounds(date)
	stats, err := q.GetMonthlyStats(context.Background(), "user-1", from, to)
	if err != nil {
		t.Fatalf("monthly stats: %v", err)
	}
	if stats.TotalIncomeCents != 300000 {
		t.Errorf("income = %d", stats.TotalIncomeCents)
	}
	if stats.TotalExpenseCents != 110000 {
		t.Errorf("expenses = %d", stats.TotalExpenseCents)
	}
	if stats.ByCategoryCents["housing"] != 100000 || stats.ByCategoryCents["food"] != 10000 {
		t.Errorf("by category = %v", stats.ByCategoryCents)
	}
	if stats.TransactionCount != 4 {
		t.Errorf("count = %d", stats.TransactionCount)
	}
}

func TestNotFoundMapping(t *testing.T) {
	_, q := newTestQueries(t)
	ctx := context.Background()

	if _, err := q.GetAccount(ctx, "missing", "user-1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAccount error = %v, want ErrNotFound", err)
	}
	if _, err := q.GetTransaction(ctx, "missing", "user-1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetTransaction error = %v, want ErrNotFound", err)
	}
	if _, err := q.GetBudget(ctx, "user-1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetBudget error = %v, want ErrNotFound", err)
	}
	if err := q.AddAccountBalance(ctx, "missing", "user-1", 100, seedNow); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("AddAccountBalance error = %v, want ErrNotFound", err)
	}
}

func TestExecTx_RollsBackOnError(t *testing.T) {
	repo, q := newTestQueries(t)
	ctx := context.Background()

	wantErr := fmt.Errorf("boom")
	err := repo.ExecTx(ctx, func(tq *Queries) error {
		if err := tq.AddAccountBalance(ctx, "acct-1", "user-1", -5000, seedNow); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("ExecTx error = %v, want %v", err, wantErr)
	}

	account, err := q.GetAccount(ctx, "acct-1", "user-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.Cents != 10000 {
		t.Errorf("balance = %d, want rollback to 10000", account.Balance.Cents)
	}
}
