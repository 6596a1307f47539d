package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"tally/internal/ledger"
	"tally/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewServer(":0", ledger.NewMutator(repo), repo.Queries(), nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-User-Email", "user@example.com")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleCreateAccountAndTransaction(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/accounts", accountRequest{Name: "Checking", Balance: "100.00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account status = %d, body %s", rec.Code, rec.Body.String())
	}
	account := decode[accountResponse](t, rec)
	if !account.IsDefault {
		t.Error("first account should be default")
	}
	if account.Balance != "100.00" {
		t.Errorf("balance = %q, want 100.00", account.Balance)
	}

	rec = doJSON(t, srv, http.MethodPost, "/transactions", transactionRequest{
		AccountID: account.ID,
		Kind:      "EXPENSE",
		Amount:    "25.50",
		Date:      "2025-04-10",
		Category:  "food",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body.String())
	}
	txn := decode[transactionResponse](t, rec)
	if txn.Amount != "25.50" || txn.Status != "COMPLETED" {
		t.Errorf("unexpected transaction: %+v", txn)
	}

	rec = doJSON(t, srv, http.MethodGet, "/accounts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list accounts status = %d", rec.Code)
	}
	accounts := decode[[]accountResponse](t, rec)
	if len(accounts) != 1 || accounts[0].Balance != "74.50" {
		t.Errorf("accounts after expense = %+v, want one with balance 74.50", accounts)
	}
}

func TestHandleCreateTransaction_Validation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/accounts", accountRequest{Name: "Checking"})
	account := decode[accountResponse](t, rec)

	tests := []struct {
		name string
		req  transactionRequest
		want int
	}{
		{
			name: "bad amount",
			req:  transactionRequest{AccountID: account.ID, Kind: "EXPENSE", Amount: "-5", Date: "2025-04-10"},
			want: http.StatusBadRequest,
		},
		{
			name: "bad date",
			req:  transactionRequest{AccountID: account.ID, Kind: "EXPENSE", Amount: "5.00", Date: "April 10th"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown account",
			req:  transactionRequest{AccountID: "missing", Kind: "EXPENSE", Amount: "5.00", Date: "2025-04-10"},
			want: http.StatusNotFound,
		},
		{
			name: "recurring without interval",
			req:  transactionRequest{AccountID: account.ID, Kind: "EXPENSE", Amount: "5.00", Date: "2025-04-10", IsRecurring: true},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/transactions", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHandleBulkDelete(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/accounts", accountRequest{Name: "Checking", Balance: "50.00"})
	account := decode[accountResponse](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/transactions", transactionRequest{
		AccountID: account.ID, Kind: "EXPENSE", Amount: "10.00", Date: "2025-04-10",
	})
	txn := decode[transactionResponse](t, rec)

	rec = doJSON(t, srv, http.MethodPost, "/transactions/bulk-delete", bulkDeleteRequest{IDs: []string{txn.ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/accounts", nil)
	accounts := decode[[]accountResponse](t, rec)
	if accounts[0].Balance != "50.00" {
		t.Errorf("balance after delete = %q, want 50.00", accounts[0].Balance)
	}
}

func TestHandleBudgetRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/budget", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("budget before upsert status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPut, "/budget", budgetRequest{Amount: "500.00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert budget status = %d, body %s", rec.Code, rec.Body.String())
	}
	budget := decode[budgetResponse](t, rec)
	if budget.Amount != "500.00" {
		t.Errorf("budget amount = %q", budget.Amount)
	}
}

func TestMissingUserHeader(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status without X-User-ID = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestScanReceiptUnconfigured(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/receipts/scan", bytes.NewReader([]byte{0xff, 0xd8}))
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("scan without Gemini key status = %d, want 503", rec.Code)
	}
}
