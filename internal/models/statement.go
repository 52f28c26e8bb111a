package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementStatus is the reconciliation state of an imported bank line.
type StatementStatus string

const (
	StatementPending   StatementStatus = "pending"
	StatementMatched   StatementStatus = "matched"
	StatementUnmatched StatementStatus = "unmatched"
	StatementDisputed  StatementStatus = "disputed"
)

// BankStatementEntry is one imported bank statement line. A matched
// entry references exactly one book TransactionEntry and vice versa.
type BankStatementEntry struct {
	ID             string          `json:"id" db:"id"`
	CompanyID      string          `json:"company_id" db:"company_id"`
	BankAccountID  string          `json:"bank_account_id" db:"bank_account_id"`
	StatementDate  time.Time       `json:"statement_date" db:"statement_date"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Description    string          `json:"description" db:"description"`
	Reference      string          `json:"reference,omitempty" db:"reference"`
	Status         StatementStatus `json:"status" db:"status"`
	MatchedEntryID string          `json:"matched_entry_id,omitempty" db:"matched_entry_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ColumnMapping tells the statement importer which input column holds
// which field, since bank export layouts vary. The zero value means the
// conventional date,amount,description layout with no reference column.
type ColumnMapping struct {
	DateColumn        int    `json:"date_column" validate:"gte=0"`
	AmountColumn      int    `json:"amount_column" validate:"gte=0"`
	DescriptionColumn int    `json:"description_column" validate:"gte=0"`
	ReferenceColumn   int    `json:"reference_column"` // -1 when absent
	DateLayout        string `json:"date_layout,omitempty"`
	Delimiter         string `json:"delimiter,omitempty"`
	SkipHeader        bool   `json:"skip_header"`
}

// ImportResult summarizes one statement import run.
type ImportResult struct {
	Imported int `json:"imported"`
	Matched  int `json:"matched"`
	Pending  int `json:"pending"`
}

// ReconciliationSummary counts statement lines by status for one bank
// account, with pending/matched amount totals.
type ReconciliationSummary struct {
	BankAccountID string          `json:"bank_account_id"`
	Pending       int             `json:"pending"`
	Matched       int             `json:"matched"`
	Unmatched     int             `json:"unmatched"`
	Disputed      int             `json:"disputed"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	MatchedAmount decimal.Decimal `json:"matched_amount"`
}

// BRSReport is the bank reconciliation statement: balance per books,
// add cheques issued but not presented, less cheques deposited but not
// credited, giving balance per bank.
type BRSReport struct {
	BankAccountID       string          `json:"bank_account_id"`
	AsOf                time.Time       `json:"as_of"`
	BalancePerBooks     decimal.Decimal `json:"balance_per_books"`
	ChequesNotPresented decimal.Decimal `json:"cheques_issued_not_presented"`
	ChequesNotCredited  decimal.Decimal `json:"cheques_deposited_not_credited"`
	BalancePerBank      decimal.Decimal `json:"balance_per_bank"`
	NotPresentedCount   int             `json:"not_presented_count"`
	NotCreditedCount    int             `json:"not_credited_count"`
}
