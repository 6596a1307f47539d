package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tally/internal/core"
)

// timeLayout is a fixed-width UTC format so that stored timestamps order
// lexicographically, which the due scan and month-range predicates rely on.
const timeLayout = "2006-01-02 15:04:05"

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same query methods
// run on the pool or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- users ---

func (q *Queries) EnsureUser(ctx context.Context, id, email, name string, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		id, email, name, fmtTime(now))
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	var createdAt string
	err := q.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, email, name, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- accounts ---

type CreateAccountParams struct {
	ID           string
	UserID       string
	Name         string
	BalanceCents int64
	IsDefault    bool
	Now          time.Time
}

func (q *Queries) CreateAccount(ctx context.Context, p CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, balance_cents, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.BalanceCents, boolToInt(p.IsDefault), fmtTime(p.Now), fmtTime(p.Now))
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (q *Queries) CountAccounts(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (q *Queries) ClearDefaultAccounts(ctx context.Context, userID string, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET is_default = 0, updated_at = ? WHERE user_id = ? AND is_default = 1`,
		fmtTime(now), userID)
	if err != nil {
		return fmt.Errorf("clear default accounts: %w", err)
	}
	return nil
}

func (q *Queries) SetAccountDefault(ctx context.Context, id, userID string, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET is_default = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		fmtTime(now), id, userID)
	if err != nil {
		return fmt.Errorf("set default account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

const accountColumns = `id, user_id, name, balance_cents, is_default, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var a core.Account
	var isDefault int
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Balance.Cents, &isDefault, &createdAt, &updatedAt)
	if err != nil {
		return core.Account{}, err
	}
	a.IsDefault = isDefault != 0
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Account{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Account{}, err
	}
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id, userID string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetDefaultAccount returns core.ErrNotFound when the user has no default
// account; callers that scan all budgets skip those users.
func (q *Queries) GetDefaultAccount(ctx context.Context, userID string) (core.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND is_default = 1 LIMIT 1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("default account for user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get default account: %w", err)
	}
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// AddAccountBalance applies a balance delta as a SQL increment. The
// read-modify-write happens inside the database, so two concurrent deltas on
// the same account can never lose an update.
func (q *Queries) AddAccountBalance(ctx context.Context, id, userID string, deltaCents int64, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		deltaCents, fmtTime(now), id, userID)
	if err != nil {
		return fmt.Errorf("add account balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// --- transactions ---

const transactionColumns = `id, user_id, account_id, kind, amount_cents, date, category, description,
	is_recurring, recurring_interval, next_recurring_date, last_processed, status, created_at, updated_at`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var isRecurring int
	var interval, nextDate, lastProcessed sql.NullString
	var date, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, (*string)(&t.Kind), &t.Amount.Cents, &date,
		&t.Category, &t.Description, &isRecurring, &interval, &nextDate, &lastProcessed,
		(*string)(&t.Status), &createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.IsRecurring = isRecurring != 0
	if interval.Valid {
		t.RecurringInterval = core.Interval(interval.String)
	}
	if t.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, err
	}
	if t.NextRecurringDate, err = parseTimePtr(nextDate); err != nil {
		return core.Transaction{}, err
	}
	if t.LastProcessed, err = parseTimePtr(lastProcessed); err != nil {
		return core.Transaction{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func intervalParam(t core.Transaction) sql.NullString {
	if !t.IsRecurring {
		return sql.NullString{}
	}
	return sql.NullString{String: string(t.RecurringInterval), Valid: true}
}

func (q *Queries) CreateTransaction(ctx context.Context, t core.Transaction, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, string(t.Kind), t.Amount.Cents, fmtTime(t.Date),
		t.Category, t.Description, boolToInt(t.IsRecurring), intervalParam(t),
		fmtTimePtr(t.NextRecurringDate), fmtTimePtr(t.LastProcessed), string(t.Status),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id, userID string) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction rewrites the mutable fields. The account a transaction
// belongs to is immutable post-creation, so account_id is not touched here.
func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET kind = ?, amount_cents = ?, date = ?, category = ?, description = ?,
		 is_recurring = ?, recurring_interval = ?, next_recurring_date = ?, status = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		string(t.Kind), t.Amount.Cents, fmtTime(t.Date), t.Category, t.Description,
		boolToInt(t.IsRecurring), intervalParam(t), fmtTimePtr(t.NextRecurringDate),
		string(t.Status), fmtTime(now), t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

// MarkProcessed advances a recurring transaction after its occurrence has
// been generated, inside the same transaction as the occurrence insert.
func (q *Queries) MarkProcessed(ctx context.Context, id string, lastProcessed, nextRecurringDate, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET last_processed = ?, next_recurring_date = ?, updated_at = ? WHERE id = ?`,
		fmtTime(lastProcessed), fmtTime(nextRecurringDate), fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (q *Queries) GetTransactionsByIDs(ctx context.Context, ids []string, userID string) ([]core.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id IN (`+inPlaceholders(len(ids))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get transactions by ids: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (q *Queries) DeleteTransactions(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE user_id = ? AND id IN (`+inPlaceholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (q *Queries) ListTransactionsByAccount(ctx context.Context, accountID, userID string) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE account_id = ? AND user_id = ? ORDER BY date DESC`, accountID, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// DueRecurringRef identifies one due recurring transaction for fan-out.
type DueRecurringRef struct {
	TransactionID string
	UserID        string
}

// ListDueRecurring is the discovery scan. The WHERE clause mirrors
// core.IsDue: never processed, or next occurrence date arrived.
func (q *Queries) ListDueRecurring(ctx context.Context, now time.Time) ([]DueRecurringRef, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id FROM transactions
		 WHERE is_recurring = 1 AND status = 'COMPLETED'
		   AND (last_processed IS NULL OR next_recurring_date <= ?)`,
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due recurring: %w", err)
	}
	defer rows.Close()

	var refs []DueRecurringRef
	for rows.Next() {
		var ref DueRecurringRef
		if err := rows.Scan(&ref.TransactionID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("scan due ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// SumExpenses totals EXPENSE amounts on one account within [from, to].
func (q *Queries) SumExpenses(ctx context.Context, accountID, userID string, from, to time.Time) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		 WHERE account_id = ? AND user_id = ? AND kind = 'EXPENSE' AND date >= ? AND date <= ?`,
		accountID, userID, fmtTime(from), fmtTime(to)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	return total, nil
}

// MonthlyStats aggregates a user's transactions within [from, to] for the
// monthly report.
type MonthlyStats struct {
	TotalIncomeCents  int64
	TotalExpenseCents int64
	ByCategoryCents   map[string]int64
	TransactionCount  int
}

func (q *Queries) GetMonthlyStats(ctx context.Context, userID string, from, to time.Time) (MonthlyStats, error) {
	stats := MonthlyStats{ByCategoryCents: make(map[string]int64)}
	rows, err := q.db.QueryContext(ctx,
		`SELECT kind, category, amount_cents FROM transactions
		 WHERE user_id = ? AND date >= ? AND date <= ?`,
		userID, fmtTime(from), fmtTime(to))
	if err != nil {
		return stats, fmt.Errorf("monthly stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, category string
		var cents int64
		if err := rows.Scan(&kind, &category, &cents); err != nil {
			return stats, fmt.Errorf("scan stats row: %w", err)
		}
		stats.TransactionCount++
		if kind == string(core.Expense) {
			stats.TotalExpenseCents += cents
			stats.ByCategoryCents[category] += cents
		} else {
			stats.TotalIncomeCents += cents
		}
	}
	return stats, rows.Err()
}

// --- budgets ---

func scanBudget(row rowScanner) (core.Budget, error) {
	var b core.Budget
	var lastAlert sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.UserID, &b.Amount.Cents, &lastAlert, &createdAt, &updatedAt)
	if err != nil {
		return core.Budget{}, err
	}
	if b.LastAlertSent, err = parseTimePtr(lastAlert); err != nil {
		return core.Budget{}, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Budget{}, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

const budgetColumns = `id, user_id, amount_cents, last_alert_sent, created_at, updated_at`

// UpsertBudget creates or replaces the user's single budget threshold. The
// watermark survives amount changes.
func (q *Queries) UpsertBudget(ctx context.Context, id, userID string, amountCents int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, amount_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET amount_cents = excluded.amount_cents, updated_at = excluded.updated_at`,
		id, userID, amountCents, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return nil
}

func (q *Queries) GetBudget(ctx context.Context, userID string) (core.Budget, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = ?`, userID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget for user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (q *Queries) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (q *Queries) SetBudgetLastAlertSent(ctx context.Context, id string, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE budgets SET last_alert_sent = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("set budget alert watermark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
