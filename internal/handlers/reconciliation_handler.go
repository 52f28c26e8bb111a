package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bizbooks/backend/internal/middleware"
	"github.com/bizbooks/backend/internal/models"
	"github.com/bizbooks/backend/internal/services"
)

type ReconciliationHandler struct {
	service   *services.ReconciliationService
	validator *services.ValidationHelper
}

func NewReconciliationHandler(service *services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// ImportStatement handles POST /reconciliation/import
func (h *ReconciliationHandler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	req := services.ImportInput{
		Mapping: models.ColumnMapping{ReferenceColumn: -1},
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.ImportStatement(r.Context(), middleware.CompanyID(r.Context()), req)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, result)
}

// AutoMatch handles POST /reconciliation/auto-match
func (h *ReconciliationHandler) AutoMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankAccountID string `json:"bank_account_id" validate:"required"`
		ToleranceDays int    `json:"tolerance_days" validate:"gte=0,lte=90"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	matched, err := h.service.AutoMatch(r.Context(), middleware.CompanyID(r.Context()),
		req.BankAccountID, req.ToleranceDays)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]int{"matched": matched})
}

// ManualMatch handles POST /reconciliation/match
func (h *ReconciliationHandler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StatementEntryID string `json:"statement_entry_id" validate:"required"`
		BookEntryID      string `json:"book_entry_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	err := h.service.ManualMatch(r.Context(), middleware.CompanyID(r.Context()),
		req.StatementEntryID, req.BookEntryID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]string{"status": "matched"})
}

// Unmatch handles POST /reconciliation/{entryId}/unmatch
func (h *ReconciliationHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	err := h.service.Unmatch(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "entryId"))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]string{"status": "unmatched"})
}

// Dispute handles POST /reconciliation/{entryId}/dispute
func (h *ReconciliationHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	err := h.service.Dispute(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "entryId"))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

// CreateTransactionFromEntry handles POST /reconciliation/{entryId}/create-transaction
func (h *ReconciliationHandler) CreateTransactionFromEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CategoryAccountID string `json:"category_account_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	txn, err := h.service.CreateTransactionFromEntry(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "entryId"), req.CategoryAccountID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, txn)
}

// SetBankDate handles PUT /entries/{entryId}/bank-date
func (h *ReconciliationHandler) SetBankDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankDate string `json:"bank_date" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	bankDate, err := time.Parse("2006-01-02", req.BankDate)
	if err != nil {
		services.SendErrorResponse(w, "Invalid bank_date, want YYYY-MM-DD", http.StatusBadRequest, nil)
		return
	}

	reopened, err := h.service.SetBankDate(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "entryId"), bankDate)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]any{"reconciled": true, "reopened": reopened})
}

// ClearBankDate handles DELETE /entries/{entryId}/bank-date
func (h *ReconciliationHandler) ClearBankDate(w http.ResponseWriter, r *http.Request) {
	err := h.service.ClearBankDate(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "entryId"))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, map[string]bool{"reconciled": false})
}

// AutoReconcile handles POST /reconciliation/auto-reconcile
func (h *ReconciliationHandler) AutoReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankAccountID string `json:"bank_account_id" validate:"required"`
		AsOf          string `json:"as_of" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	asOf, err := time.Parse("2006-01-02", req.AsOf)
	if err != nil {
		services.SendErrorResponse(w, "Invalid as_of, want YYYY-MM-DD", http.StatusBadRequest, nil)
		return
	}

	result, err := h.service.AutoReconcile(r.Context(), middleware.CompanyID(r.Context()),
		req.BankAccountID, asOf)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// Summary handles GET /reconciliation/summary
func (h *ReconciliationHandler) Summary(w http.ResponseWriter, r *http.Request) {
	bankAccountID := r.URL.Query().Get("bank_account_id")
	if bankAccountID == "" {
		services.SendErrorResponse(w, "bank_account_id query parameter required", http.StatusBadRequest, nil)
		return
	}

	summary, err := h.service.GetReconciliationSummary(r.Context(),
		middleware.CompanyID(r.Context()), bankAccountID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, summary)
}

// BRS handles GET /reconciliation/brs
func (h *ReconciliationHandler) BRS(w http.ResponseWriter, r *http.Request) {
	bankAccountID := r.URL.Query().Get("bank_account_id")
	if bankAccountID == "" {
		services.SendErrorResponse(w, "bank_account_id query parameter required", http.StatusBadRequest, nil)
		return
	}
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	report, err := h.service.BRSReport(r.Context(), middleware.CompanyID(r.Context()),
		bankAccountID, asOf)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, report)
}

// Unreconciled handles GET /reconciliation/unreconciled
func (h *ReconciliationHandler) Unreconciled(w http.ResponseWriter, r *http.Request) {
	bankAccountID := r.URL.Query().Get("bank_account_id")
	if bankAccountID == "" {
		services.SendErrorResponse(w, "bank_account_id query parameter required", http.StatusBadRequest, nil)
		return
	}
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}

	entries, err := h.service.UnreconciledEntries(r.Context(), middleware.CompanyID(r.Context()),
		bankAccountID, asOf)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, entries)
}

func (h *ReconciliationHandler) asOfParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	asOf := time.Now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			services.SendErrorResponse(w, "Invalid as_of date, want YYYY-MM-DD", http.StatusBadRequest, nil)
			return time.Time{}, false
		}
		asOf = parsed
	}
	return asOf, true
}

func (h *ReconciliationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4_194_304)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
