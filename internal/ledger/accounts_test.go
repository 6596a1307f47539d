package ledger

import (
	"context"
	"errors"
	"testing"

	"tally/internal/core"
)

func TestCreateAccount_FirstAccountBecomesDefault(t *testing.T) {
	m, _ := newTestMutator(t)
	ctx := context.Background()

	first, err := m.CreateAccount(ctx, testUser, "Checking", core.Money{Cents: 1000}, false)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if !first.IsDefault {
		t.Error("first account should be default even when not requested")
	}

	second, err := m.CreateAccount(ctx, testUser, "Savings", core.Money{}, false)
	if err != nil {
		t.Fatalf("create second account: %v", err)
	}
	if second.IsDefault {
		t.Error("second account should not be default unless requested")
	}
}

func TestCreateAccount_ExplicitDefaultDisplacesCurrent(t *testing.T) {
	m, q := newTestMutator(t)
	ctx := context.Background()

	first, err := m.CreateAccount(ctx, testUser, "Checking", core.Money{}, false)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	second, err := m.CreateAccount(ctx, testUser, "Savings", core.Money{}, true)
	if err != nil {
		t.Fatalf("create second account: %v", err)
	}
	if !second.IsDefault {
		t.Fatal("second account should be default")
	}

	got, err := q.GetAccount(ctx, first.ID, testUser)
	if err != nil {
		t.Fatalf("get first account: %v", err)
	}
	if got.IsDefault {
		t.Error("first account should have lost default status")
	}

	def, err := q.GetDefaultAccount(ctx, testUser)
	if err != nil {
		t.Fatalf("get default account: %v", err)
	}
	if def.ID != second.ID {
		t.Errorf("default account = %s, want %s", def.ID, second.ID)
	}
}

func TestSetDefaultAccount(t *testing.T) {
	m, q := newTestMutator(t)
	ctx := context.Background()

	first, err := m.CreateAccount(ctx, testUser, "Checking", core.Money{}, false)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	second, err := m.CreateAccount(ctx, testUser, "Savings", core.Money{}, false)
	if err != nil {
		t.Fatalf("create second account: %v", err)
	}

	switched, err := m.SetDefaultAccount(ctx, testUser, second.ID)
	if err != nil {
		t.Fatalf("set default account: %v", err)
	}
	if !switched.IsDefault {
		t.Error("switched account should be default")
	}

	got, err := q.GetAccount(ctx, first.ID, testUser)
	if err != nil {
		t.Fatalf("get first account: %v", err)
	}
	if got.IsDefault {
		t.Error("previous default should be cleared")
	}
}

func TestSetDefaultAccount_Unknown(t *testing.T) {
	m, _ := newTestMutator(t)

	_, err := m.SetDefaultAccount(context.Background(), testUser, "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SetDefaultAccount() error = %v, want ErrNotFound", err)
	}
}

func TestCreateAccount_EmptyName(t *testing.T) {
	m, _ := newTestMutator(t)

	_, err := m.CreateAccount(context.Background(), testUser, "  ", core.Money{}, false)
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("CreateAccount() error = %v, want ErrInvalidInput", err)
	}
}

func TestUpsertBudget_PreservesWatermark(t *testing.T) {
	m, q := newTestMutator(t)
	ctx := context.Background()

	if err := m.UpsertBudget(ctx, testUser, core.Money{Cents: 50000}); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}
	budget, err := q.GetBudget(ctx, testUser)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if budget.Amount.Cents != 50000 {
		t.Fatalf("budget amount = %d, want 50000", budget.Amount.Cents)
	}

	mark := budget.CreatedAt
	if err := q.SetBudgetLastAlertSent(ctx, budget.ID, mark); err != nil {
		t.Fatalf("set watermark: %v", err)
	}

	if err := m.UpsertBudget(ctx, testUser, core.Money{Cents: 60000}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	updated, err := q.GetBudget(ctx, testUser)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if updated.ID != budget.ID {
		t.Error("upsert should update the existing budget row")
	}
	if updated.Amount.Cents != 60000 {
		t.Errorf("budget amount = %d, want 60000", updated.Amount.Cents)
	}
	if updated.LastAlertSent == nil {
		t.Error("watermark should survive a budget change")
	}
}
