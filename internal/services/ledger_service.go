package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bizbooks/backend/internal/config"
	"github.com/bizbooks/backend/internal/middleware"
	"github.com/bizbooks/backend/internal/models"
)

// LedgerService is the append-only double-entry posting core. Posted
// transactions are immutable; corrections are new reversing postings,
// and balances are always aggregated, never cached.
type LedgerService struct {
	db         *sql.DB
	redis      *redis.Client
	currencies *config.CurrencyConfig
	validator  *ValidationHelper
}

func NewLedgerService(db *sql.DB, redisClient *redis.Client) *LedgerService {
	return &LedgerService{
		db:         db,
		redis:      redisClient,
		currencies: config.LoadCurrencyConfig(),
		validator:  NewValidationHelper(),
	}
}

// EntryInput is one leg of a posting request.
type EntryInput struct {
	AccountID   string          `json:"account_id" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// PostingInput is a balanced entry set submitted by a domain caller.
type PostingInput struct {
	Date        time.Time          `json:"date"`
	VoucherKind models.VoucherKind `json:"voucher_kind"`
	Narration   string             `json:"narration,omitempty"`
	Reference   string             `json:"reference,omitempty"`
	Currency    string             `json:"currency,omitempty"`
	Entries     []EntryInput       `json:"entries" validate:"required,min=2,dive"`
}

// Post validates and persists a posting as one atomic unit. On any
// validation failure nothing is written; a lost voucher-number race is
// retried a bounded number of times on a fresh transaction.
func (ls *LedgerService) Post(ctx context.Context, companyID string, in PostingInput) (*models.Transaction, error) {
	if err := ls.checkDuplicateReference(ctx, companyID, in.Reference); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := runWithRetry(func() error {
		tx, err := ls.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		txn, err = ls.PostTx(tx, companyID, in)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	ls.rememberReference(ctx, companyID, in.Reference)
	return txn, nil
}

// PostTx runs the posting inside a caller-supplied transaction so that
// cheque transitions and reconciliation postings can commit the posting
// together with their own state change.
func (ls *LedgerService) PostTx(tx *sql.Tx, companyID string, in PostingInput) (*models.Transaction, error) {
	if len(in.Entries) < 2 {
		return nil, ErrEmptyEntries
	}
	if in.VoucherKind == "" {
		in.VoucherKind = models.VoucherJournal
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}

	currency := in.Currency
	if currency == "" {
		currency = ls.currencies.DefaultCurrency
	}

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	accountIDs := make([]string, 0, len(in.Entries))
	for i := range in.Entries {
		e := &in.Entries[i]
		e.Debit = ls.currencies.Round(currency, e.Debit)
		e.Credit = ls.currencies.Round(currency, e.Credit)

		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount on account %s", ErrInvalidEntry, e.AccountID)
		}
		debitSet := !e.Debit.IsZero()
		creditSet := !e.Credit.IsZero()
		if debitSet == creditSet {
			return nil, fmt.Errorf("%w: account %s", ErrInvalidEntry, e.AccountID)
		}

		totalDebit = totalDebit.Add(e.Debit)
		totalCredit = totalCredit.Add(e.Credit)
		accountIDs = append(accountIDs, e.AccountID)
	}

	// Exact equality: a one-cent mismatch fails.
	if !totalDebit.Equal(totalCredit) {
		return nil, fmt.Errorf("%w: debit %s vs credit %s",
			ErrUnbalancedEntries, totalDebit.String(), totalCredit.String())
	}

	if err := verifyAccountsOwned(tx, companyID, accountIDs); err != nil {
		return nil, err
	}

	number, err := nextVoucherNumber(tx, companyID, in.VoucherKind)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Number:      number,
		VoucherKind: in.VoucherKind,
		Date:        in.Date,
		Status:      models.TxPosted,
		Narration:   in.Narration,
		Reference:   in.Reference,
		CreatedAt:   time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO transactions (id, company_id, number, voucher_kind, date, status, narration, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.CompanyID, txn.Number, txn.VoucherKind, txn.Date, txn.Status,
		txn.Narration, txn.Reference, txn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}

	for _, e := range in.Entries {
		entry := models.TransactionEntry{
			ID:            uuid.NewString(),
			TransactionID: txn.ID,
			AccountID:     e.AccountID,
			Debit:         e.Debit,
			Credit:        e.Credit,
			Description:   e.Description,
			CreatedAt:     txn.CreatedAt,
		}
		_, err = tx.Exec(`
			INSERT INTO transaction_entries (id, transaction_id, account_id, debit_amount, credit_amount, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.TransactionID, entry.AccountID, entry.Debit, entry.Credit,
			entry.Description, entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		txn.Entries = append(txn.Entries, entry)
	}

	return txn, nil
}

// Balance aggregates debit-credit (flipped for credit-normal accounts)
// over all posted entries dated at or before asOf, in a single query.
func (ls *LedgerService) Balance(ctx context.Context, companyID, accountID string, asOf time.Time) (decimal.Decimal, error) {
	var accountType models.AccountType
	err := ls.db.QueryRowContext(ctx, `
		SELECT type FROM accounts WHERE id = $1 AND company_id = $2`,
		accountID, companyID).Scan(&accountType)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}

	var debit, credit decimal.Decimal
	err = ls.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(te.debit_amount), 0), COALESCE(SUM(te.credit_amount), 0)
		FROM transaction_entries te
		JOIN transactions t ON t.id = te.transaction_id
		WHERE te.account_id = $1 AND t.company_id = $2 AND t.status = $3 AND t.date <= $4`,
		accountID, companyID, models.TxPosted, asOf).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, err
	}

	if accountType.NormalSide() == models.DebitNormal {
		return debit.Sub(credit), nil
	}
	return credit.Sub(debit), nil
}

// Reverse creates a new posting mirroring transactionID with sides
// swapped. The original is never mutated.
func (ls *LedgerService) Reverse(ctx context.Context, companyID, transactionID string, date time.Time, narration string) (*models.Transaction, error) {
	var txn *models.Transaction
	err := runWithRetry(func() error {
		tx, err := ls.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		txn, err = ls.ReverseTx(tx, companyID, transactionID, date, narration)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ReverseTx is the tx-scoped variant used by cheque bounce/stop.
func (ls *LedgerService) ReverseTx(tx *sql.Tx, companyID, transactionID string, date time.Time, narration string) (*models.Transaction, error) {
	original, err := fetchTransactionTx(tx, companyID, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.TxPosted {
		return nil, ErrTransactionNotPosted
	}

	if date.IsZero() {
		date = time.Now()
	}
	if narration == "" {
		narration = fmt.Sprintf("Reversal of %s #%d", original.VoucherKind, original.Number)
	}

	number, err := nextVoucherNumber(tx, companyID, models.VoucherReversal)
	if err != nil {
		return nil, err
	}

	reversal := &models.Transaction{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Number:      number,
		VoucherKind: models.VoucherReversal,
		Date:        date,
		Status:      models.TxPosted,
		Narration:   narration,
		ReversalOf:  original.ID,
		CreatedAt:   time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO transactions (id, company_id, number, voucher_kind, date, status, narration, reference, reversal_of, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		reversal.ID, reversal.CompanyID, reversal.Number, reversal.VoucherKind, reversal.Date,
		reversal.Status, reversal.Narration, "", reversal.ReversalOf, reversal.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}

	for _, e := range original.Entries {
		entry := models.TransactionEntry{
			ID:            uuid.NewString(),
			TransactionID: reversal.ID,
			AccountID:     e.AccountID,
			Debit:         e.Credit,
			Credit:        e.Debit,
			Description:   e.Description,
			CreatedAt:     reversal.CreatedAt,
		}
		_, err = tx.Exec(`
			INSERT INTO transaction_entries (id, transaction_id, account_id, debit_amount, credit_amount, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.TransactionID, entry.AccountID, entry.Debit, entry.Credit,
			entry.Description, entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		reversal.Entries = append(reversal.Entries, entry)
	}

	return reversal, nil
}

// verifyAccountsOwned rejects postings that reference accounts outside
// the caller's company.
func verifyAccountsOwned(tx *sql.Tx, companyID string, accountIDs []string) error {
	var count int
	err := tx.QueryRow(`
		SELECT COUNT(DISTINCT id) FROM accounts
		WHERE id = ANY($1) AND company_id = $2`,
		pq.Array(accountIDs), companyID).Scan(&count)
	if err != nil {
		return err
	}

	distinct := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		distinct[id] = struct{}{}
	}
	if count != len(distinct) {
		return ErrCrossCompanyReference
	}
	return nil
}

// nextVoucherNumber allocates the next sequential number for the
// company and voucher kind. The unique index on (company_id,
// voucher_kind, number) turns a lost race into ErrConcurrencyConflict.
func nextVoucherNumber(tx *sql.Tx, companyID string, kind models.VoucherKind) (int64, error) {
	var number int64
	err := tx.QueryRow(`
		SELECT COALESCE(MAX(number), 0) + 1 FROM transactions
		WHERE company_id = $1 AND voucher_kind = $2`,
		companyID, kind).Scan(&number)
	return number, err
}

func fetchTransactionTx(tx *sql.Tx, companyID, transactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	var reversalOf sql.NullString
	err := tx.QueryRow(`
		SELECT id, company_id, number, voucher_kind, date, status, narration, reference, reversal_of, created_at
		FROM transactions
		WHERE id = $1 AND company_id = $2`,
		transactionID, companyID).Scan(
		&txn.ID, &txn.CompanyID, &txn.Number, &txn.VoucherKind, &txn.Date, &txn.Status,
		&txn.Narration, &txn.Reference, &reversalOf, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	txn.ReversalOf = reversalOf.String

	rows, err := tx.Query(`
		SELECT id, transaction_id, account_id, debit_amount, credit_amount, description, created_at
		FROM transaction_entries
		WHERE transaction_id = $1
		ORDER BY id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e models.TransactionEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Debit, &e.Credit, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		txn.Entries = append(txn.Entries, e)
	}
	return &txn, rows.Err()
}

func (ls *LedgerService) checkDuplicateReference(ctx context.Context, companyID, reference string) error {
	if ls.redis == nil || reference == "" {
		return nil
	}
	key := fmt.Sprintf("ledger:ref:%s:%s", companyID, reference)
	exists, err := ls.redis.Exists(ctx, key).Result()
	if err != nil {
		// Redis is an optimization; the caller still gets correct
		// behavior without it.
		return nil
	}
	if exists > 0 {
		return ErrDuplicateReference
	}
	return nil
}

func (ls *LedgerService) rememberReference(ctx context.Context, companyID, reference string) {
	if ls.redis == nil || reference == "" {
		return
	}
	key := fmt.Sprintf("ledger:ref:%s:%s", companyID, reference)
	ls.redis.Set(ctx, key, 1, 24*time.Hour)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// PostTransaction handles POST /transactions
func (ls *LedgerService) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var in PostingInput

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&in); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := ls.validator.ValidateStruct(&in); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := ls.Post(r.Context(), middleware.CompanyID(r.Context()), in)
	if err != nil {
		SendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, txn)
}

// ReverseTransaction handles POST /transactions/{txId}/reverse
func (ls *LedgerService) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date      time.Time `json:"date"`
		Narration string    `json:"narration"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	txn, err := ls.Reverse(r.Context(), middleware.CompanyID(r.Context()),
		chi.URLParam(r, "txId"), req.Date, req.Narration)
	if err != nil {
		SendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, txn)
}

// GetTransaction handles GET /transactions/{txId}
func (ls *LedgerService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := ls.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	txn, err := fetchTransactionTx(tx, middleware.CompanyID(r.Context()), chi.URLParam(r, "txId"))
	if err != nil {
		SendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, txn)
}

// AccountBalance handles GET /accounts/{accountId}/balance
func (ls *LedgerService) AccountBalance(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			SendErrorResponse(w, "Invalid as_of date, want YYYY-MM-DD", http.StatusBadRequest, nil)
			return
		}
		asOf = parsed
	}

	accountID := chi.URLParam(r, "accountId")
	balance, err := ls.Balance(r.Context(), middleware.CompanyID(r.Context()), accountID, asOf)
	if err != nil {
		SendEngineError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"as_of":      asOf.Format("2006-01-02"),
		"balance":    balance,
	})
}
