package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bizbooks/backend/internal/middleware"
	"github.com/bizbooks/backend/internal/services"
)

type ChequeHandler struct {
	service   *services.ChequeService
	validator *services.ValidationHelper
}

func NewChequeHandler(service *services.ChequeService) *ChequeHandler {
	return &ChequeHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateBook handles POST /cheque-books
func (h *ChequeHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req services.CreateBookInput
	if !h.decode(w, r, &req) {
		return
	}

	book, err := h.service.CreateBook(r.Context(), middleware.CompanyID(r.Context()), req)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, book)
}

// Issue handles POST /cheques/issue
func (h *ChequeHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req services.IssueInput
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Issue(r.Context(), middleware.CompanyID(r.Context()), req)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, result)
}

// Receive handles POST /cheques/receive
func (h *ChequeHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req services.ReceiveInput
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Receive(r.Context(), middleware.CompanyID(r.Context()), req)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusCreated, result)
}

// Deposit handles POST /cheques/{chequeId}/deposit
func (h *ChequeHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankAccountID string `json:"bank_account_id" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Deposit(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "chequeId"), req.BankAccountID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// Clear handles POST /cheques/{chequeId}/clear
func (h *ChequeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Clear(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "chequeId"))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// Bounce handles POST /cheques/{chequeId}/bounce
func (h *ChequeHandler) Bounce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason           string          `json:"reason" validate:"required,max=200"`
		Charges          decimal.Decimal `json:"charges"`
		ChargesAccountID string          `json:"charges_account_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Bounce(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "chequeId"), req.Reason, req.Charges, req.ChargesAccountID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// Stop handles POST /cheques/{chequeId}/stop
func (h *ChequeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"required,max=200"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.StopPayment(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "chequeId"), req.Reason)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// Cancel handles POST /cheques/{chequeId}/cancel
func (h *ChequeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"required,max=200"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Cancel(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "chequeId"), req.Reason)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, result)
}

// GetCheque handles GET /cheques/{chequeId}
func (h *ChequeHandler) GetCheque(w http.ResponseWriter, r *http.Request) {
	cheque, err := h.service.GetCheque(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "chequeId"))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	services.SendJSON(w, http.StatusOK, cheque)
}

func (h *ChequeHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
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
