package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChequeKind distinguishes cheques we write from cheques we are handed.
type ChequeKind string

const (
	ChequeIssued   ChequeKind = "issued"
	ChequeReceived ChequeKind = "received"
)

// ChequeStatus is the lifecycle state of a cheque.
type ChequeStatus string

const (
	StatusIssued    ChequeStatus = "ISSUED"
	StatusReceived  ChequeStatus = "RECEIVED"
	StatusDeposited ChequeStatus = "DEPOSITED"
	StatusCleared   ChequeStatus = "CLEARED"
	StatusBounced   ChequeStatus = "BOUNCED"
	StatusStopped   ChequeStatus = "STOPPED"
	StatusCancelled ChequeStatus = "CANCELLED"
)

// CanTransition reports whether a cheque of the given kind may move from
// s to next. Issued cheques go ISSUED -> CLEARED | STOPPED | CANCELLED.
// Received cheques go RECEIVED -> DEPOSITED | CANCELLED,
// DEPOSITED -> CLEARED | BOUNCED, and a bounced cheque may be
// re-deposited.
func (s ChequeStatus) CanTransition(kind ChequeKind, next ChequeStatus) bool {
	switch kind {
	case ChequeIssued:
		if s != StatusIssued {
			return false
		}
		return next == StatusCleared || next == StatusStopped || next == StatusCancelled
	case ChequeReceived:
		switch s {
		case StatusReceived:
			return next == StatusDeposited || next == StatusCancelled
		case StatusDeposited:
			return next == StatusCleared || next == StatusBounced
		case StatusBounced:
			return next == StatusDeposited
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ChequeStatus) Terminal(kind ChequeKind) bool {
	switch s {
	case StatusCleared, StatusStopped, StatusCancelled:
		return true
	case StatusBounced:
		return kind == ChequeIssued
	}
	return false
}

type Cheque struct {
	ID            string          `json:"id" db:"id"`
	CompanyID     string          `json:"company_id" db:"company_id"`
	Kind          ChequeKind      `json:"kind" db:"kind"`
	Number        int64           `json:"number" db:"number"`
	BookID        string          `json:"book_id,omitempty" db:"book_id"`
	BankAccountID string          `json:"bank_account_id" db:"bank_account_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Counterparty  string          `json:"counterparty" db:"counterparty"`
	Status        ChequeStatus    `json:"status" db:"status"`
	TransactionID string          `json:"transaction_id,omitempty" db:"transaction_id"`
	Remarks       string          `json:"remarks,omitempty" db:"remarks"`
	Date          time.Time       `json:"date" db:"date"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ChequeBook owns a contiguous cheque number series. NextNumber is the
// cursor; the book is exhausted once it passes EndNumber.
type ChequeBook struct {
	ID            string    `json:"id" db:"id"`
	CompanyID     string    `json:"company_id" db:"company_id"`
	BankAccountID string    `json:"bank_account_id" db:"bank_account_id"`
	StartNumber   int64     `json:"start_number" db:"start_number"`
	EndNumber     int64     `json:"end_number" db:"end_number"`
	NextNumber    int64     `json:"next_number" db:"next_number"`
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// LeavesUsed returns how many cheques the book has issued so far.
func (b ChequeBook) LeavesUsed() int64 {
	return b.NextNumber - b.StartNumber
}

// LeavesTotal returns the size of the series.
func (b ChequeBook) LeavesTotal() int64 {
	return b.EndNumber - b.StartNumber + 1
}

// Exhausted reports whether no numbers remain.
func (b ChequeBook) Exhausted() bool {
	return b.NextNumber > b.EndNumber
}
