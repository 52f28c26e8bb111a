package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a voucher.
type TransactionStatus string

const (
	TxDraft     TransactionStatus = "draft"
	TxPosted    TransactionStatus = "posted"
	TxCancelled TransactionStatus = "cancelled"
)

// VoucherKind partitions the sequential transaction numbering.
type VoucherKind string

const (
	VoucherJournal  VoucherKind = "journal"
	VoucherPayment  VoucherKind = "payment"
	VoucherReceipt  VoucherKind = "receipt"
	VoucherContra   VoucherKind = "contra"
	VoucherReversal VoucherKind = "reversal"
)

// Transaction is a voucher header. Once status is posted the entry set
// is immutable; corrections go through a reversing transaction.
type Transaction struct {
	ID          string             `json:"id" db:"id"`
	CompanyID   string             `json:"company_id" db:"company_id"`
	Number      int64              `json:"number" db:"number"`
	VoucherKind VoucherKind        `json:"voucher_kind" db:"voucher_kind"`
	Date        time.Time          `json:"date" db:"date"`
	Status      TransactionStatus  `json:"status" db:"status"`
	Narration   string             `json:"narration" db:"narration"`
	Reference   string             `json:"reference,omitempty" db:"reference"`
	ReversalOf  string             `json:"reversal_of,omitempty" db:"reversal_of"`
	Entries     []TransactionEntry `json:"entries,omitempty"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}

// TransactionEntry is one leg of a double-entry posting. Exactly one of
// Debit/Credit is non-zero for a valid entry.
type TransactionEntry struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Debit         decimal.Decimal `json:"debit" db:"debit_amount"`
	Credit        decimal.Decimal `json:"credit" db:"credit_amount"`
	Description   string          `json:"description,omitempty" db:"description"`
	BankDate      *time.Time      `json:"bank_date,omitempty" db:"bank_date"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
