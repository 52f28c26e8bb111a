package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bizbooks/backend/internal/models"
)

// ReconciliationService matches imported bank-statement lines against
// book entries and maintains the manual bank-date marking mode.
//
// Auto-matching is greedy: statement lines are processed oldest first
// and each takes its nearest-date candidate. A globally optimal
// bipartite assignment could match more lines in rare tie-heavy
// datasets; the greedy order is kept because it is what operators
// reconcile against.
type ReconciliationService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewReconciliationService(db *sql.DB, ledger *LedgerService) *ReconciliationService {
	return &ReconciliationService{db: db, ledger: ledger}
}

// ImportInput is one statement import request.
type ImportInput struct {
	BankAccountID string               `json:"bank_account_id" validate:"required"`
	Content       string               `json:"content" validate:"required"`
	Mapping       models.ColumnMapping `json:"mapping"`
	AutoMatch     bool                 `json:"auto_match"`
	ToleranceDays int                  `json:"tolerance_days" validate:"gte=0,lte=90"`
}

// ImportStatement parses external rows into pending statement entries
// and optionally auto-matches them, all in one transaction.
func (rs *ReconciliationService) ImportStatement(ctx context.Context, companyID string, in ImportInput) (*models.ImportResult, error) {
	lines, err := parseStatement(in.Content, in.Mapping)
	if err != nil {
		return nil, err
	}

	tx, err := rs.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	imported := make([]string, 0, len(lines))
	for _, line := range lines {
		id := uuid.NewString()
		_, err := tx.Exec(`
			INSERT INTO bank_statement_entries (id, company_id, bank_account_id, statement_date, amount, description, reference, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, companyID, in.BankAccountID, line.Date, line.Amount,
			line.Description, line.Reference, models.StatementPending, now)
		if err != nil {
			return nil, err
		}
		imported = append(imported, id)
	}

	result := &models.ImportResult{Imported: len(lines), Pending: len(lines)}
	if in.AutoMatch {
		// Scope the matcher to this import's lines so the counts stay
		// consistent; older pending lines keep waiting for AutoMatch.
		matched, err := rs.autoMatchTx(tx, companyID, in.BankAccountID, in.ToleranceDays, imported)
		if err != nil {
			return nil, err
		}
		result.Matched = matched
		result.Pending = result.Imported - matched
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// AutoMatch runs the greedy matcher over all pending statement entries
// of a bank account.
func (rs *ReconciliationService) AutoMatch(ctx context.Context, companyID, bankAccountID string, toleranceDays int) (int, error) {
	var matched int
	err := runWithRetry(func() error {
		tx, err := rs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		matched, err = rs.autoMatchTx(tx, companyID, bankAccountID, toleranceDays, nil)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return matched, nil
}

type matchCandidate struct {
	EntryID string
	Date    time.Time
}

// autoMatchTx runs the matcher over pending statement entries; a
// non-nil only slice restricts it to those entry ids.
func (rs *ReconciliationService) autoMatchTx(tx *sql.Tx, companyID, bankAccountID string, toleranceDays int, only []string) (int, error) {
	query := `
		SELECT id, statement_date, amount
		FROM bank_statement_entries
		WHERE company_id = $1 AND bank_account_id = $2 AND status = $3`
	args := []any{companyID, bankAccountID, models.StatementPending}
	if len(only) > 0 {
		query += ` AND id = ANY($4)`
		args = append(args, pq.Array(only))
	}
	query += `
		ORDER BY statement_date, id
		FOR UPDATE`

	rows, err := tx.Query(query, args...)
	if err != nil {
		return 0, err
	}

	type pendingLine struct {
		ID     string
		Date   time.Time
		Amount decimal.Decimal
	}
	var pending []pendingLine
	for rows.Next() {
		var p pendingLine
		if err := rows.Scan(&p.ID, &p.Date, &p.Amount); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	matched := 0
	for _, p := range pending {
		candidates, err := matchCandidates(tx, companyID, bankAccountID, p.Date, p.Amount, toleranceDays)
		if err != nil {
			return 0, err
		}
		best, ok := pickMatch(p.Date, candidates)
		if !ok {
			continue
		}
		if err := markMatched(tx, p.ID, best.EntryID); err != nil {
			return 0, err
		}
		matched++
	}
	return matched, nil
}

// matchCandidates returns unmatched book entries on the bank account
// with the exact statement amount inside the tolerance window. A
// positive statement amount is money into the bank (a book debit on
// the bank account); a negative one is money out (a book credit).
func matchCandidates(tx *sql.Tx, companyID, bankAccountID string, date time.Time, amount decimal.Decimal, toleranceDays int) ([]matchCandidate, error) {
	from := date.AddDate(0, 0, -toleranceDays)
	to := date.AddDate(0, 0, toleranceDays)

	debitAmount := decimal.Zero
	creditAmount := decimal.Zero
	if amount.IsPositive() {
		debitAmount = amount
	} else {
		creditAmount = amount.Neg()
	}

	rows, err := tx.Query(`
		SELECT te.id, t.date
		FROM transaction_entries te
		JOIN transactions t ON t.id = te.transaction_id
		WHERE te.account_id = $1
		  AND t.company_id = $2
		  AND t.status = $3
		  AND t.date BETWEEN $4 AND $5
		  AND te.debit_amount = $6
		  AND te.credit_amount = $7
		  AND NOT EXISTS (
			SELECT 1 FROM bank_statement_entries b
			WHERE b.matched_entry_id = te.id AND b.status = $8
		  )
		ORDER BY te.id`,
		bankAccountID, companyID, models.TxPosted, from, to,
		debitAmount, creditAmount, models.StatementMatched)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []matchCandidate
	for rows.Next() {
		var c matchCandidate
		if err := rows.Scan(&c.EntryID, &c.Date); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// pickMatch selects the candidate with the smallest date difference,
// tie-broken by smallest entry id so the assignment is deterministic.
func pickMatch(statementDate time.Time, candidates []matchCandidate) (matchCandidate, bool) {
	if len(candidates) == 0 {
		return matchCandidate{}, false
	}
	best := candidates[0]
	bestDiff := dateDiffDays(statementDate, best.Date)
	for _, c := range candidates[1:] {
		diff := dateDiffDays(statementDate, c.Date)
		if diff < bestDiff || (diff == bestDiff && c.EntryID < best.EntryID) {
			best = c
			bestDiff = diff
		}
	}
	return best, true
}

func dateDiffDays(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := int(a.Sub(b).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// markMatched flips a statement entry to matched with optimistic
// guards on both sides of the pairing; a lost race surfaces as
// ErrConcurrencyConflict rather than a silent double-match.
func markMatched(tx *sql.Tx, statementEntryID, bookEntryID string) error {
	var taken bool
	err := tx.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM bank_statement_entries
			WHERE matched_entry_id = $1 AND status = $2
		)`, bookEntryID, models.StatementMatched).Scan(&taken)
	if err != nil {
		return err
	}
	if taken {
		return ErrEntryAlreadyMatched
	}

	result, err := tx.Exec(`
		UPDATE bank_statement_entries
		SET status = $1, matched_entry_id = $2
		WHERE id = $3 AND status IN ($4, $5)`,
		models.StatementMatched, bookEntryID, statementEntryID,
		models.StatementPending, models.StatementUnmatched)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrencyConflict
		}
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// ManualMatch records a human-confirmed pairing, subject to the same
// bidirectional at-most-one invariant as the matcher. A lost match race
// is retried on a fresh transaction.
func (rs *ReconciliationService) ManualMatch(ctx context.Context, companyID, statementEntryID, bookEntryID string) error {
	return runWithRetry(func() error {
		tx, err := rs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		entry, err := lockStatementEntry(tx, companyID, statementEntryID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case models.StatementMatched:
			return ErrAlreadyMatched
		case models.StatementDisputed:
			return ErrDisputed
		}

		var bookCompanyID string
		err = tx.QueryRow(`
			SELECT t.company_id
			FROM transaction_entries te
			JOIN transactions t ON t.id = te.transaction_id
			WHERE te.id = $1 AND t.status = $2`,
			bookEntryID, models.TxPosted).Scan(&bookCompanyID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if bookCompanyID != companyID {
			return ErrCrossCompanyReference
		}

		if err := markMatched(tx, statementEntryID, bookEntryID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Unmatch re-opens a matched pairing, freeing both sides.
func (rs *ReconciliationService) Unmatch(ctx context.Context, companyID, statementEntryID string) error {
	tx, err := rs.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entry, err := lockStatementEntry(tx, companyID, statementEntryID)
	if err != nil {
		return err
	}
	if entry.Status != models.StatementMatched {
		return ErrNotMatched
	}

	_, err = tx.Exec(`
		UPDATE bank_statement_entries
		SET status = $1, matched_entry_id = NULL
		WHERE id = $2`,
		models.StatementUnmatched, statementEntryID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Dispute flags a pending line so no further matching is attempted.
func (rs *ReconciliationService) Dispute(ctx context.Context, companyID, statementEntryID string) error {
	result, err := rs.db.ExecContext(ctx, `
		UPDATE bank_statement_entries
		SET status = $1
		WHERE id = $2 AND company_id = $3 AND status = $4`,
		models.StatementDisputed, statementEntryID, companyID, models.StatementPending)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		entry, err := rs.fetchStatementEntry(ctx, companyID, statementEntryID)
		if err != nil {
			return err
		}
		if entry.Status == models.StatementMatched {
			return ErrAlreadyMatched
		}
		return ErrNotPending
	}
	return nil
}

// CreateTransactionFromEntry handles bank-only lines (interest,
// charges) with no book counterpart: it posts category vs. bank and
// immediately matches the statement line to the new posting's bank
// entry, atomically.
func (rs *ReconciliationService) CreateTransactionFromEntry(ctx context.Context, companyID, statementEntryID, categoryAccountID string) (*models.Transaction, error) {
	var txn *models.Transaction
	err := runWithRetry(func() error {
		tx, err := rs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		entry, err := lockStatementEntry(tx, companyID, statementEntryID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case models.StatementMatched:
			return ErrAlreadyMatched
		case models.StatementDisputed:
			return ErrDisputed
		}

		amount := entry.Amount.Abs()
		var entries []EntryInput
		if entry.Amount.IsPositive() {
			// Money in: bank interest and the like.
			entries = []EntryInput{
				{AccountID: entry.BankAccountID, Debit: amount, Description: entry.Description},
				{AccountID: categoryAccountID, Credit: amount, Description: entry.Description},
			}
		} else {
			// Money out: bank charges.
			entries = []EntryInput{
				{AccountID: categoryAccountID, Debit: amount, Description: entry.Description},
				{AccountID: entry.BankAccountID, Credit: amount, Description: entry.Description},
			}
		}

		txn, err = rs.ledger.PostTx(tx, companyID, PostingInput{
			Date:        entry.StatementDate,
			VoucherKind: models.VoucherJournal,
			Narration:   fmt.Sprintf("Bank statement line: %s", entry.Description),
			Reference:   entry.Reference,
			Entries:     entries,
		})
		if err != nil {
			return err
		}

		var bankEntryID string
		for _, e := range txn.Entries {
			if e.AccountID == entry.BankAccountID {
				bankEntryID = e.ID
				break
			}
		}
		if err := markMatched(tx, statementEntryID, bankEntryID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// SetBankDate stamps a book entry as reconciled on the given date.
// Setting the same date again is a no-op; changing an already-set date
// re-opens reconciliation and is logged for audit.
func (rs *ReconciliationService) SetBankDate(ctx context.Context, companyID, entryID string, bankDate time.Time) (reopened bool, err error) {
	var current sql.NullTime
	err = rs.db.QueryRowContext(ctx, `
		SELECT te.bank_date
		FROM transaction_entries te
		JOIN transactions t ON t.id = te.transaction_id
		WHERE te.id = $1 AND t.company_id = $2`,
		entryID, companyID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	if current.Valid {
		if sameDate(current.Time, bankDate) {
			return false, nil
		}
		reopened = true
		log.Printf("Reconciliation re-opened for entry %s: bank date %s -> %s",
			entryID, current.Time.Format(defaultDateLayout), bankDate.Format(defaultDateLayout))
	}

	_, err = rs.db.ExecContext(ctx, `
		UPDATE transaction_entries SET bank_date = $1 WHERE id = $2`,
		bankDate, entryID)
	return reopened, err
}

// ClearBankDate un-reconciles a book entry.
func (rs *ReconciliationService) ClearBankDate(ctx context.Context, companyID, entryID string) error {
	result, err := rs.db.ExecContext(ctx, `
		UPDATE transaction_entries te
		SET bank_date = NULL
		FROM transactions t
		WHERE te.id = $1 AND t.id = te.transaction_id AND t.company_id = $2`,
		entryID, companyID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AutoReconcileResult reports a bulk bank-date stamping run. The run is
// deliberately non-atomic: it is a convenience operation and partial
// success is fine.
type AutoReconcileResult struct {
	Stamped int `json:"stamped"`
	Failed  int `json:"failed"`
}

// AutoReconcile stamps bank_date = transaction date on every
// unreconciled entry of the bank account dated at or before asOf.
func (rs *ReconciliationService) AutoReconcile(ctx context.Context, companyID, bankAccountID string, asOf time.Time) (*AutoReconcileResult, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT te.id, t.date
		FROM transaction_entries te
		JOIN transactions t ON t.id = te.transaction_id
		WHERE te.account_id = $1 AND t.company_id = $2 AND t.status = $3
		  AND t.date <= $4 AND te.bank_date IS NULL
		ORDER BY t.date, te.id`,
		bankAccountID, companyID, models.TxPosted, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pendingStamp struct {
		EntryID string
		Date    time.Time
	}
	var stamps []pendingStamp
	for rows.Next() {
		var s pendingStamp
		if err := rows.Scan(&s.EntryID, &s.Date); err != nil {
			return nil, err
		}
		stamps = append(stamps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &AutoReconcileResult{}
	for _, s := range stamps {
		_, err := rs.db.ExecContext(ctx, `
			UPDATE transaction_entries SET bank_date = $1 WHERE id = $2`,
			s.Date, s.EntryID)
		if err != nil {
			log.Printf("Auto-reconcile failed for entry %s: %v", s.EntryID, err)
			result.Failed++
			continue
		}
		result.Stamped++
	}
	return result, nil
}

// GetReconciliationSummary counts statement lines by status with
// pending/matched amount totals for one bank account.
func (rs *ReconciliationService) GetReconciliationSummary(ctx context.Context, companyID, bankAccountID string) (*models.ReconciliationSummary, error) {
	summary := &models.ReconciliationSummary{
		BankAccountID: bankAccountID,
		PendingAmount: decimal.Zero,
		MatchedAmount: decimal.Zero,
	}

	rows, err := rs.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM bank_statement_entries
		WHERE company_id = $1 AND bank_account_id = $2
		GROUP BY status`,
		companyID, bankAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status models.StatementStatus
		var count int
		var total decimal.Decimal
		if err := rows.Scan(&status, &count, &total); err != nil {
			return nil, err
		}
		switch status {
		case models.StatementPending:
			summary.Pending = count
			summary.PendingAmount = total
		case models.StatementMatched:
			summary.Matched = count
			summary.MatchedAmount = total
		case models.StatementUnmatched:
			summary.Unmatched = count
		case models.StatementDisputed:
			summary.Disputed = count
		}
	}
	return summary, rows.Err()
}

// UnreconciledEntries lists book entries on the bank account with no
// bank date and no statement match, as of a date.
func (rs *ReconciliationService) UnreconciledEntries(ctx context.Context, companyID, bankAccountID string, asOf time.Time) ([]models.TransactionEntry, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT te.id, te.transaction_id, te.account_id, te.debit_amount, te.credit_amount, te.description, te.created_at
		FROM transaction_entries te
		JOIN transactions t ON t.id = te.transaction_id
		WHERE te.account_id = $1 AND t.company_id = $2 AND t.status = $3
		  AND t.date <= $4 AND te.bank_date IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM bank_statement_entries b
			WHERE b.matched_entry_id = te.id AND b.status = $5
		  )
		ORDER BY t.date, te.id`,
		bankAccountID, companyID, models.TxPosted, asOf, models.StatementMatched)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.TransactionEntry{}
	for rows.Next() {
		var e models.TransactionEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Debit, &e.Credit, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BRSReport builds the bank reconciliation statement: balance per
// books, add cheques issued but not yet presented, less cheques
// deposited but not yet credited, giving balance per bank.
//
// The cheque buckets filter on current status only, so an as_of in
// the past still reflects today's outstanding cheques rather than a
// historical snapshot. A point-in-time figure would need the
// cheque_transactions history.
func (rs *ReconciliationService) BRSReport(ctx context.Context, companyID, bankAccountID string, asOf time.Time) (*models.BRSReport, error) {
	booksBalance, err := rs.ledger.Balance(ctx, companyID, bankAccountID, asOf)
	if err != nil {
		return nil, err
	}

	report := &models.BRSReport{
		BankAccountID:   bankAccountID,
		AsOf:            asOf,
		BalancePerBooks: booksBalance,
	}

	err = rs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FILTER (WHERE amount > 0)
		FROM cheques
		WHERE company_id = $1 AND bank_account_id = $2 AND kind = $3
		  AND status = $4 AND date <= $5`,
		companyID, bankAccountID, models.ChequeIssued, models.StatusIssued, asOf).
		Scan(&report.ChequesNotPresented, &report.NotPresentedCount)
	if err != nil {
		return nil, err
	}

	err = rs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FILTER (WHERE amount > 0)
		FROM cheques
		WHERE company_id = $1 AND bank_account_id = $2 AND kind = $3
		  AND status = $4 AND date <= $5`,
		companyID, bankAccountID, models.ChequeReceived, models.StatusDeposited, asOf).
		Scan(&report.ChequesNotCredited, &report.NotCreditedCount)
	if err != nil {
		return nil, err
	}

	report.BalancePerBank = report.BalancePerBooks.
		Add(report.ChequesNotPresented).
		Sub(report.ChequesNotCredited)
	return report, nil
}

func lockStatementEntry(tx *sql.Tx, companyID, statementEntryID string) (*models.BankStatementEntry, error) {
	var e models.BankStatementEntry
	var matchedEntryID sql.NullString
	err := tx.QueryRow(`
		SELECT id, company_id, bank_account_id, statement_date, amount, description, reference, status, matched_entry_id, created_at
		FROM bank_statement_entries
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`,
		statementEntryID, companyID).Scan(&e.ID, &e.CompanyID, &e.BankAccountID, &e.StatementDate,
		&e.Amount, &e.Description, &e.Reference, &e.Status, &matchedEntryID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.MatchedEntryID = matchedEntryID.String
	return &e, nil
}

func (rs *ReconciliationService) fetchStatementEntry(ctx context.Context, companyID, statementEntryID string) (*models.BankStatementEntry, error) {
	var e models.BankStatementEntry
	var matchedEntryID sql.NullString
	err := rs.db.QueryRowContext(ctx, `
		SELECT id, company_id, bank_account_id, statement_date, amount, description, reference, status, matched_entry_id, created_at
		FROM bank_statement_entries
		WHERE id = $1 AND company_id = $2`,
		statementEntryID, companyID).Scan(&e.ID, &e.CompanyID, &e.BankAccountID, &e.StatementDate,
		&e.Amount, &e.Description, &e.Reference, &e.Status, &matchedEntryID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.MatchedEntryID = matchedEntryID.String
	return &e, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
