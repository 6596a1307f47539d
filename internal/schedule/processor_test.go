package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/storage"
)

const testUser = "user-1"

var processNow = time.Date(2025, 4, 15, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	q := repo.Queries()
	if err := q.EnsureUser(ctx, testUser, "user@example.com", "Test User", processNow); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := q.CreateAccount(ctx, storage.CreateAccountParams{
		ID:           "acct-1",
		UserID:       testUser,
		Name:         "Checking",
		BalanceCents: 10000,
		IsDefault:    true,
		Now:          processNow,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return repo
}

// seedTemplate inserts a recurring template. nextDate nil means never
// processed, which is due by definition.
func seedTemplate(t *testing.T, repo *storage.SQLiteRepository, nextDate, lastProcessed *time.Time, status core.Status) core.Transaction {
	t.Helper()

	template := core.Transaction{
		ID:                uuid.New().String(),
		UserID:            testUser,
		AccountID:         "acct-1",
		Kind:              core.Expense,
		Amount:            core.Money{Cents: 500},
		Date:              processNow.AddDate(0, -1, 0),
		Description:       "Gym membership",
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
		NextRecurringDate: nextDate,
		LastProcessed:     lastProcessed,
		Status:            status,
	}
	if err := repo.Queries().CreateTransaction(context.Background(), template, processNow); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return template
}

func newTestProcessor(repo *storage.SQLiteRepository) *Processor {
	p := NewProcessor(repo)
	p.now = func() time.Time { return processNow }
	return p
}

func accountBalance(t *testing.T, repo *storage.SQLiteRepository) int64 {
	t.Helper()
	account, err := repo.Queries().GetAccount(context.Background(), "acct-1", testUser)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance.Cents
}

func TestProcessDue_GeneratesOccurrence(t *testing.T) {
	repo := newTestRepo(t)
	template := seedTemplate(t, repo, nil, nil, core.StatusCompleted)
	p := newTestProcessor(repo)
	ctx := context.Background()

	processed, err := p.ProcessDue(ctx, template.ID, testUser)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if !processed {
		t.Fatal("expected template to be processed")
	}

	if got := accountBalance(t, repo); got != 9500 {
		t.Errorf("balance = %d, want 9500", got)
	}

	txns, err := repo.Queries().ListTransactionsByAccount(ctx, "acct-1", testUser)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("transaction count = %d, want 2 (template + occurrence)", len(txns))
	}

	var occurrence core.Transaction
	for _, txn := range txns {
		if txn.ID != template.ID {
			occurrence = txn
		}
	}
	if occurrence.Description != "Gym membership (Recurring)" {
		t.Errorf("occurrence description = %q", occurrence.Description)
	}
	if occurrence.IsRecurring {
		t.Error("occurrence must not itself be recurring")
	}

	advanced, err := repo.Queries().GetTransaction(ctx, template.ID, testUser)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if advanced.LastProcessed == nil || !advanced.LastProcessed.Equal(processNow) {
		t.Errorf("LastProcessed = %v, want %v", advanced.LastProcessed, processNow)
	}
	wantNext := core.NextOccurrence(processNow, core.Monthly)
	if advanced.NextRecurringDate == nil || !advanced.NextRecurringDate.Equal(wantNext) {
		t.Errorf("NextRecurringDate = %v, want %v", advanced.NextRecurringDate, wantNext)
	}
}

func TestProcessDue_DuplicateDeliveryIsNoOp(t *testing.T) {
	repo := newTestRepo(t)
	template := seedTemplate(t, repo, nil, nil, core.StatusCompleted)
	p := newTestProcessor(repo)
	ctx := context.Background()

	first, err := p.ProcessDue(ctx, template.ID, testUser)
	if err != nil || !first {
		t.Fatalf("first ProcessDue = (%v, %v), want (true, nil)", first, err)
	}
	second, err := p.ProcessDue(ctx, template.ID, testUser)
	if err != nil {
		t.Fatalf("second ProcessDue: %v", err)
	}
	if second {
		t.Error("duplicate delivery must not generate a second occurrence")
	}

	if got := accountBalance(t, repo); got != 9500 {
		t.Errorf("balance = %d, want exactly one delta applied (9500)", got)
	}

	txns, err := repo.Queries().ListTransactionsByAccount(ctx, "acct-1", testUser)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("transaction count = %d, want 2", len(txns))
	}
}

func TestProcessDue_NotYetDue(t *testing.T) {
	repo := newTestRepo(t)
	future := processNow.AddDate(0, 0, 10)
	past := processNow.AddDate(0, -1, 0)
	template := seedTemplate(t, repo, &future, &past, core.StatusCompleted)
	p := newTestProcessor(repo)

	processed, err := p.ProcessDue(context.Background(), template.ID, testUser)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if processed {
		t.Error("future-dated template must not be processed")
	}
	if got := accountBalance(t, repo); got != 10000 {
		t.Errorf("balance = %d, want untouched 10000", got)
	}
}

func TestProcessDue_PendingTemplateSkipped(t *testing.T) {
	repo := newTestRepo(t)
	template := seedTemplate(t, repo, nil, nil, core.StatusPending)
	p := newTestProcessor(repo)

	processed, err := p.ProcessDue(context.Background(), template.ID, testUser)
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if processed {
		t.Error("pending template must not be processed")
	}
}

func TestProcessDue_MissingTransaction(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestProcessor(repo)

	processed, err := p.ProcessDue(context.Background(), "missing", testUser)
	if err != nil {
		t.Fatalf("ProcessDue on missing row should no-op, got: %v", err)
	}
	if processed {
		t.Error("missing template must not be processed")
	}
}
