package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bizbooks/backend/internal/models"
)

// Validation errors — rejected before any write.
var (
	ErrInvalidEntry          = errors.New("entry must have exactly one non-zero side")
	ErrUnbalancedEntries     = errors.New("debit and credit totals do not balance")
	ErrCrossCompanyReference = errors.New("entry references an account of another company")
	ErrInvalidColumnMapping  = errors.New("invalid statement column mapping")
	ErrEmptyEntries          = errors.New("a posting needs at least two entries")
)

// State errors — the operation conflicts with current state.
var (
	ErrAlreadyMatched       = errors.New("statement entry is already matched")
	ErrEntryAlreadyMatched  = errors.New("book entry is already matched to a statement line")
	ErrNotMatched           = errors.New("statement entry is not matched")
	ErrBookExhausted        = errors.New("cheque book has no numbers left")
	ErrTransactionNotPosted = errors.New("only posted transactions can be reversed")
	ErrDisputed             = errors.New("statement entry is disputed")
	ErrDuplicateReference   = errors.New("a posting with this reference already exists")
	ErrNotPending           = errors.New("statement entry is not pending")
)

// ErrNotFound covers missing accounts, cheques, books, transactions and
// statement entries.
var ErrNotFound = errors.New("record not found")

// ErrConcurrencyConflict is retryable: a concurrent request won the
// contended row (book cursor, match target, voucher number).
var ErrConcurrencyConflict = errors.New("concurrent update conflict")

// maxConflictRetries bounds how often a lost race is re-run before the
// conflict surfaces to the caller.
const maxConflictRetries = 3

// runWithRetry re-runs fn while it fails with ErrConcurrencyConflict.
// fn must open its own transaction so every attempt starts fresh.
func runWithRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

// InvalidTransitionError reports a cheque state machine violation.
type InvalidTransitionError struct {
	From models.ChequeStatus
	To   models.ChequeStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid cheque transition %s -> %s", e.From, e.To)
}

// StatusCode maps an engine error onto its HTTP status.
func StatusCode(err error) int {
	var it *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyMatched),
		errors.Is(err, ErrEntryAlreadyMatched),
		errors.Is(err, ErrNotMatched),
		errors.Is(err, ErrBookExhausted),
		errors.Is(err, ErrTransactionNotPosted),
		errors.Is(err, ErrDisputed),
		errors.Is(err, ErrNotPending),
		errors.Is(err, ErrDuplicateReference),
		errors.Is(err, ErrConcurrencyConflict),
		errors.As(err, &it):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidEntry),
		errors.Is(err, ErrUnbalancedEntries),
		errors.Is(err, ErrCrossCompanyReference),
		errors.Is(err, ErrInvalidColumnMapping),
		errors.Is(err, ErrEmptyEntries):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
