package http

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"tally/internal/core"
)

const maxReceiptBytes = 8 << 20

// resolveUser reads the caller identity from the X-User-ID header and
// upserts the user row. Email and name headers are optional and only matter
// on first sight.
func (s *Server) resolveUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := sanitizeInput(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, fmt.Errorf("%w: missing X-User-ID header", core.ErrInvalidInput))
		return "", false
	}

	email := sanitizeInput(r.Header.Get("X-User-Email"))
	name := sanitizeInput(r.Header.Get("X-User-Name"))
	if err := s.queries.EnsureUser(r.Context(), userID, email, name, time.Now()); err != nil {
		writeError(w, err)
		return "", false
	}
	return userID, true
}

type accountRequest struct {
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	IsDefault bool   `json:"is_default"`
}

type accountResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Name:      a.Name,
		Balance:   a.Balance.String(),
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	var req accountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	opening := core.Money{}
	if req.Balance != "" {
		parsed, err := core.ParseAmount(req.Balance)
		if err != nil {
			writeError(w, err)
			return
		}
		opening = parsed
	}

	account, err := s.mutator.CreateAccount(r.Context(), userID, sanitizeInput(req.Name), opening, req.IsDefault)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	accounts, err := s.queries.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	account, err := s.mutator.SetDefaultAccount(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

type transactionRequest struct {
	AccountID         string `json:"account_id"`
	Kind              string `json:"kind"`
	Amount            string `json:"amount"`
	Date              string `json:"date"`
	Category          string `json:"category"`
	Description       string `json:"description"`
	IsRecurring       bool   `json:"is_recurring"`
	RecurringInterval string `json:"recurring_interval"`
	Status            string `json:"status"`
}

func (req transactionRequest) toCore() (core.Transaction, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		AccountID:         req.AccountID,
		Kind:              core.Kind(req.Kind),
		Amount:            amount,
		Date:              date,
		Category:          sanitizeInput(req.Category),
		Description:       sanitizeInput(req.Description),
		IsRecurring:       req.IsRecurring,
		RecurringInterval: core.Interval(req.RecurringInterval),
		Status:            core.Status(req.Status),
	}, nil
}

type transactionResponse struct {
	ID                string  `json:"id"`
	AccountID         string  `json:"account_id"`
	Kind              string  `json:"kind"`
	Amount            string  `json:"amount"`
	Date              string  `json:"date"`
	Category          string  `json:"category,omitempty"`
	Description       string  `json:"description,omitempty"`
	IsRecurring       bool    `json:"is_recurring"`
	RecurringInterval string  `json:"recurring_interval,omitempty"`
	NextRecurringDate *string `json:"next_recurring_date,omitempty"`
	LastProcessed     *string `json:"last_processed,omitempty"`
	Status            string  `json:"status"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	fmtPtr := func(ts *time.Time) *string {
		if ts == nil {
			return nil
		}
		s := ts.UTC().Format(time.RFC3339)
		return &s
	}
	return transactionResponse{
		ID:                t.ID,
		AccountID:         t.AccountID,
		Kind:              string(t.Kind),
		Amount:            t.Amount.String(),
		Date:              t.Date.UTC().Format(time.RFC3339),
		Category:          t.Category,
		Description:       t.Description,
		IsRecurring:       t.IsRecurring,
		RecurringInterval: string(t.RecurringInterval),
		NextRecurringDate: fmtPtr(t.NextRecurringDate),
		LastProcessed:     fmtPtr(t.LastProcessed),
		Status:            string(t.Status),
	}
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	t, err := req.toCore()
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := s.mutator.Create(r.Context(), userID, t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, fmt.Errorf("%w: missing account_id query parameter", core.ErrInvalidInput))
		return
	}

	txns, err := s.queries.ListTransactionsByAccount(r.Context(), accountID, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	upd, err := req.toCore()
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.mutator.Update(r.Context(), userID, r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(updated))
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleBulkDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	var req bulkDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.mutator.BulkDelete(r.Context(), userID, req.IDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(req.IDs)})
}

type budgetRequest struct {
	Amount string `json:"amount"`
}

type budgetResponse struct {
	ID            string  `json:"id"`
	Amount        string  `json:"amount"`
	LastAlertSent *string `json:"last_alert_sent,omitempty"`
}

func toBudgetResponse(b core.Budget) budgetResponse {
	resp := budgetResponse{
		ID:     b.ID,
		Amount: b.Amount.String(),
	}
	if b.LastAlertSent != nil {
		s := b.LastAlertSent.UTC().Format(time.RFC3339)
		resp.LastAlertSent = &s
	}
	return resp
}

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	var req budgetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.mutator.UpsertBudget(r.Context(), userID, amount); err != nil {
		writeError(w, err)
		return
	}

	budget, err := s.queries.GetBudget(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetResponse(budget))
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.resolveUser(w, r)
	if !ok {
		return
	}

	budget, err := s.queries.GetBudget(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetResponse(budget))
}

type receiptResponse struct {
	Amount       string `json:"amount,omitempty"`
	Date         string `json:"date,omitempty"`
	Description  string `json:"description,omitempty"`
	MerchantName string `json:"merchant_name,omitempty"`
	Category     string `json:"category,omitempty"`
}

// handleScanReceipt accepts a raw image body and returns the extracted
// fields. The response is best-effort: an unreadable receipt yields an
// empty object, not an error.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.resolveUser(w, r); !ok {
		return
	}
	if s.scanner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "receipt scanning is not configured"})
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	image, err := io.ReadAll(io.LimitReader(r.Body, maxReceiptBytes+1))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(image) == 0 {
		writeError(w, fmt.Errorf("%w: empty request body", core.ErrInvalidInput))
		return
	}
	if len(image) > maxReceiptBytes {
		writeError(w, fmt.Errorf("%w: image exceeds %d bytes", core.ErrInvalidInput, maxReceiptBytes))
		return
	}

	data := s.scanner.ScanReceipt(r.Context(), image, mimeType)

	resp := receiptResponse{
		Description:  data.Description,
		MerchantName: data.MerchantName,
		Category:     data.Category,
	}
	if data.Amount.Cents > 0 {
		resp.Amount = data.Amount.String()
	}
	if !data.Date.IsZero() {
		resp.Date = data.Date.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
