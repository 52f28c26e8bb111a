package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bizbooks/backend/internal/middleware"
	"github.com/bizbooks/backend/internal/models"
)

// AccountService is the chart-of-accounts registry. Accounts are created
// by setup collaborators and immutable once referenced by posted entries.
type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type createAccountRequest struct {
	Code string `json:"code" validate:"required,max=20"`
	Name string `json:"name" validate:"required,max=120"`
	Type string `json:"type" validate:"required,oneof=asset liability equity revenue expense"`
}

// CreateAccount handles POST /accounts
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account := &models.Account{
		ID:        uuid.NewString(),
		CompanyID: middleware.CompanyID(r.Context()),
		Code:      req.Code,
		Name:      req.Name,
		Type:      models.AccountType(req.Type),
		CreatedAt: time.Now(),
	}

	_, err := as.db.Exec(`
		INSERT INTO accounts (id, company_id, code, name, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.CompanyID, account.Code, account.Name, account.Type, account.CreatedAt)
	if err != nil {
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, account)
}

// GetAccount handles GET /accounts/{accountId}
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	companyID := middleware.CompanyID(r.Context())

	account, err := as.fetchAccount(companyID, accountID)
	if err != nil {
		SendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, account)
}

// ListAccounts handles GET /accounts
func (as *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	companyID := middleware.CompanyID(r.Context())

	rows, err := as.db.Query(`
		SELECT id, company_id, code, name, type, created_at
		FROM accounts
		WHERE company_id = $1
		ORDER BY code`, companyID)
	if err != nil {
		SendErrorResponse(w, "Failed to list accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to list accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	SendJSON(w, http.StatusOK, accounts)
}

func (as *AccountService) fetchAccount(companyID, accountID string) (*models.Account, error) {
	var a models.Account
	err := as.db.QueryRow(`
		SELECT id, company_id, code, name, type, created_at
		FROM accounts
		WHERE id = $1 AND company_id = $2`,
		accountID, companyID).Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
