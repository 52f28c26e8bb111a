package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bizbooks/backend/internal/models"
)

// Cheque history actions recorded in cheque_transactions.
const (
	actionIssue         = "issue"
	actionReceive       = "receive"
	actionDeposit       = "deposit"
	actionBounceReverse = "bounce_reversal"
	actionBounceCharges = "bounce_charges"
	actionStopReverse   = "stop_reversal"
)

// ChequeService drives the cheque lifecycle state machine. Every
// transition commits the status change and its ledger posting in one
// database transaction; a posting failure rolls the transition back,
// and a lost voucher-number race is retried on a fresh transaction.
type ChequeService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewChequeService(db *sql.DB, ledger *LedgerService) *ChequeService {
	return &ChequeService{db: db, ledger: ledger}
}

// ChequeResult is the outcome of a transition: the updated cheque and
// the posting (if any) the transition created.
type ChequeResult struct {
	Cheque        *models.Cheque      `json:"cheque"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Transaction   *models.Transaction `json:"transaction,omitempty"`
}

type IssueInput struct {
	BookID           string          `json:"book_id" validate:"required"`
	Date             time.Time       `json:"date"`
	Amount           decimal.Decimal `json:"amount" validate:"required"`
	Payee            string          `json:"payee" validate:"required,max=120"`
	PayableAccountID string          `json:"payable_account_id" validate:"required"`
}

type ReceiveInput struct {
	Number                 int64           `json:"number" validate:"required"`
	Date                   time.Time       `json:"date"`
	Amount                 decimal.Decimal `json:"amount" validate:"required"`
	Drawer                 string          `json:"drawer" validate:"required,max=120"`
	ReceivableAccountID    string          `json:"receivable_account_id" validate:"required"`
	ChequesInHandAccountID string          `json:"cheques_in_hand_account_id" validate:"required"`
}

type CreateBookInput struct {
	BankAccountID string `json:"bank_account_id" validate:"required"`
	StartNumber   int64  `json:"start_number" validate:"required,gt=0"`
	EndNumber     int64  `json:"end_number" validate:"required,gtfield=StartNumber"`
}

// CreateBook registers a new cheque book with its number series.
func (cs *ChequeService) CreateBook(ctx context.Context, companyID string, in CreateBookInput) (*models.ChequeBook, error) {
	book := &models.ChequeBook{
		ID:            uuid.NewString(),
		CompanyID:     companyID,
		BankAccountID: in.BankAccountID,
		StartNumber:   in.StartNumber,
		EndNumber:     in.EndNumber,
		NextNumber:    in.StartNumber,
		Active:        true,
		CreatedAt:     time.Now(),
	}
	_, err := cs.db.ExecContext(ctx, `
		INSERT INTO cheque_books (id, company_id, bank_account_id, start_number, end_number, next_number, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		book.ID, book.CompanyID, book.BankAccountID, book.StartNumber, book.EndNumber,
		book.NextNumber, book.Active, book.CreatedAt)
	if err != nil {
		return nil, err
	}
	return book, nil
}

// Issue writes a cheque from a book: the book cursor is advanced under
// a row lock so two concurrent issues never share a number, and the
// payable/bank posting commits with the new cheque. A lost
// voucher-number race is retried on a fresh transaction.
func (cs *ChequeService) Issue(ctx context.Context, companyID string, in IssueInput) (*ChequeResult, error) {
	if in.Date.IsZero() {
		in.Date = time.Now()
	}

	var result *ChequeResult
	err := runWithRetry(func() error {
		tx, err := cs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		book, err := lockBook(tx, companyID, in.BookID)
		if err != nil {
			return err
		}
		if !book.Active {
			return fmt.Errorf("%w: book %s is inactive", ErrNotFound, book.ID)
		}
		if book.Exhausted() {
			return ErrBookExhausted
		}

		number := book.NextNumber
		_, err = tx.Exec(`
			UPDATE cheque_books SET next_number = $1 WHERE id = $2`,
			number+1, book.ID)
		if err != nil {
			return err
		}

		txn, err := cs.ledger.PostTx(tx, companyID, PostingInput{
			Date:        in.Date,
			VoucherKind: models.VoucherPayment,
			Narration:   fmt.Sprintf("Cheque #%d issued to %s", number, in.Payee),
			Entries: []EntryInput{
				{AccountID: in.PayableAccountID, Debit: in.Amount},
				{AccountID: book.BankAccountID, Credit: in.Amount},
			},
		})
		if err != nil {
			return err
		}

		cheque := &models.Cheque{
			ID:            uuid.NewString(),
			CompanyID:     companyID,
			Kind:          models.ChequeIssued,
			Number:        number,
			BookID:        book.ID,
			BankAccountID: book.BankAccountID,
			Amount:        in.Amount,
			Counterparty:  in.Payee,
			Status:        models.StatusIssued,
			TransactionID: txn.ID,
			Date:          in.Date,
			UpdatedAt:     time.Now(),
		}
		if err := insertCheque(tx, cheque); err != nil {
			return err
		}
		if err := recordChequeAction(tx, cheque.ID, txn.ID, actionIssue); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &ChequeResult{Cheque: cheque, TransactionID: txn.ID, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Receive records a cheque handed to us: debit cheques-in-hand, credit
// the counterparty receivable.
func (cs *ChequeService) Receive(ctx context.Context, companyID string, in ReceiveInput) (*ChequeResult, error) {
	if in.Date.IsZero() {
		in.Date = time.Now()
	}

	var result *ChequeResult
	err := runWithRetry(func() error {
		tx, err := cs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		txn, err := cs.ledger.PostTx(tx, companyID, PostingInput{
			Date:        in.Date,
			VoucherKind: models.VoucherReceipt,
			Narration:   fmt.Sprintf("Cheque #%d received from %s", in.Number, in.Drawer),
			Entries: []EntryInput{
				{AccountID: in.ChequesInHandAccountID, Debit: in.Amount},
				{AccountID: in.ReceivableAccountID, Credit: in.Amount},
			},
		})
		if err != nil {
			return err
		}

		cheque := &models.Cheque{
			ID:            uuid.NewString(),
			CompanyID:     companyID,
			Kind:          models.ChequeReceived,
			Number:        in.Number,
			Amount:        in.Amount,
			Counterparty:  in.Drawer,
			Status:        models.StatusReceived,
			TransactionID: txn.ID,
			Date:          in.Date,
			UpdatedAt:     time.Now(),
		}
		if err := insertCheque(tx, cheque); err != nil {
			return err
		}
		if err := recordChequeAction(tx, cheque.ID, txn.ID, actionReceive); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &ChequeResult{Cheque: cheque, TransactionID: txn.ID, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deposit banks a received (or previously bounced) cheque: debit bank,
// credit cheques-in-hand.
func (cs *ChequeService) Deposit(ctx context.Context, companyID, chequeID, bankAccountID string) (*ChequeResult, error) {
	var result *ChequeResult
	err := runWithRetry(func() error {
		tx, err := cs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		cheque, err := lockCheque(tx, companyID, chequeID)
		if err != nil {
			return err
		}
		if cheque.Kind != models.ChequeReceived || !cheque.Status.CanTransition(cheque.Kind, models.StatusDeposited) {
			return &InvalidTransitionError{From: cheque.Status, To: models.StatusDeposited}
		}

		holdingAccountID, err := chequeActionDebitAccount(tx, cheque.ID, actionReceive)
		if err != nil {
			return err
		}

		txn, err := cs.ledger.PostTx(tx, companyID, PostingInput{
			Date:        time.Now(),
			VoucherKind: models.VoucherContra,
			Narration:   fmt.Sprintf("Cheque #%d deposited", cheque.Number),
			Entries: []EntryInput{
				{AccountID: bankAccountID, Debit: cheque.Amount},
				{AccountID: holdingAccountID, Credit: cheque.Amount},
			},
		})
		if err != nil {
			return err
		}

		cheque.Status = models.StatusDeposited
		cheque.BankAccountID = bankAccountID
		cheque.TransactionID = txn.ID
		if err := updateChequeState(tx, cheque); err != nil {
			return err
		}
		if err := recordChequeAction(tx, cheque.ID, txn.ID, actionDeposit); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &ChequeResult{Cheque: cheque, TransactionID: txn.ID, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Clear marks a cheque as honored by the bank. The money already moved
// on issue/deposit, so clearing emits no posting.
func (cs *ChequeService) Clear(ctx context.Context, companyID, chequeID string) (*ChequeResult, error) {
	tx, err := cs.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cheque, err := lockCheque(tx, companyID, chequeID)
	if err != nil {
		return nil, err
	}
	if !cheque.Status.CanTransition(cheque.Kind, models.StatusCleared) {
		return nil, &InvalidTransitionError{From: cheque.Status, To: models.StatusCleared}
	}

	cheque.Status = models.StatusCleared
	if err := updateChequeState(tx, cheque); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ChequeResult{Cheque: cheque}, nil
}

// Bounce handles a deposited cheque returned by the bank: the deposit
// posting is reversed, and bank charges (if any) get their own posting.
func (cs *ChequeService) Bounce(ctx context.Context, companyID, chequeID, reason string, charges decimal.Decimal, chargesAccountID string) (*ChequeResult, error) {
	var result *ChequeResult
	err := runWithRetry(func() error {
		tx, err := cs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		cheque, err := lockCheque(tx, companyID, chequeID)
		if err != nil {
			return err
		}
		if cheque.Kind != models.ChequeReceived || !cheque.Status.CanTransition(cheque.Kind, models.StatusBounced) {
			return &InvalidTransitionError{From: cheque.Status, To: models.StatusBounced}
		}

		reversal, err := cs.ledger.ReverseTx(tx, companyID, cheque.TransactionID, time.Now(),
			fmt.Sprintf("Cheque #%d bounced: %s", cheque.Number, reason))
		if err != nil {
			return err
		}
		if err := recordChequeAction(tx, cheque.ID, reversal.ID, actionBounceReverse); err != nil {
			return err
		}

		if charges.IsPositive() {
			if chargesAccountID == "" {
				return fmt.Errorf("%w: bounce charges need a charges account", ErrInvalidEntry)
			}
			chargesTxn, err := cs.ledger.PostTx(tx, companyID, PostingInput{
				Date:        time.Now(),
				VoucherKind: models.VoucherJournal,
				Narration:   fmt.Sprintf("Bounce charges for cheque #%d", cheque.Number),
				Entries: []EntryInput{
					{AccountID: chargesAccountID, Debit: charges},
					{AccountID: cheque.BankAccountID, Credit: charges},
				},
			})
			if err != nil {
				return err
			}
			if err := recordChequeAction(tx, cheque.ID, chargesTxn.ID, actionBounceCharges); err != nil {
				return err
			}
		}

		cheque.Status = models.StatusBounced
		cheque.TransactionID = reversal.ID
		cheque.Remarks = reason
		if err := updateChequeState(tx, cheque); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &ChequeResult{Cheque: cheque, TransactionID: reversal.ID, Transaction: reversal}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StopPayment voids an issued cheque before it clears by reversing the
// issue posting.
func (cs *ChequeService) StopPayment(ctx context.Context, companyID, chequeID, reason string) (*ChequeResult, error) {
	var result *ChequeResult
	err := runWithRetry(func() error {
		tx, err := cs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		cheque, err := lockCheque(tx, companyID, chequeID)
		if err != nil {
			return err
		}
		if cheque.Kind != models.ChequeIssued || !cheque.Status.CanTransition(cheque.Kind, models.StatusStopped) {
			return &InvalidTransitionError{From: cheque.Status, To: models.StatusStopped}
		}

		reversal, err := cs.ledger.ReverseTx(tx, companyID, cheque.TransactionID, time.Now(),
			fmt.Sprintf("Stop payment on cheque #%d: %s", cheque.Number, reason))
		if err != nil {
			return err
		}

		cheque.Status = models.StatusStopped
		cheque.TransactionID = reversal.ID
		cheque.Remarks = reason
		if err := updateChequeState(tx, cheque); err != nil {
			return err
		}
		if err := recordChequeAction(tx, cheque.ID, reversal.ID, actionStopReverse); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &ChequeResult{Cheque: cheque, TransactionID: reversal.ID, Transaction: reversal}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel voids a cheque without touching the ledger. It is only valid
// while no live posting realizes the cheque's state: a received cheque
// that was never deposited, or an issued cheque with no issue posting
// (migrated data). Issued cheques with a posting need StopPayment, and
// CLEARED is terminal.
func (cs *ChequeService) Cancel(ctx context.Context, companyID, chequeID, reason string) (*ChequeResult, error) {
	tx, err := cs.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cheque, err := lockCheque(tx, companyID, chequeID)
	if err != nil {
		return nil, err
	}
	if !cheque.Status.CanTransition(cheque.Kind, models.StatusCancelled) {
		return nil, &InvalidTransitionError{From: cheque.Status, To: models.StatusCancelled}
	}
	if cheque.Kind == models.ChequeIssued && cheque.TransactionID != "" {
		return nil, &InvalidTransitionError{From: cheque.Status, To: models.StatusCancelled}
	}

	cheque.Status = models.StatusCancelled
	cheque.Remarks = reason
	if err := updateChequeState(tx, cheque); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ChequeResult{Cheque: cheque}, nil
}

// GetCheque returns one cheque by id.
func (cs *ChequeService) GetCheque(ctx context.Context, companyID, chequeID string) (*models.Cheque, error) {
	return fetchCheque(cs.db.QueryRowContext(ctx, `
		SELECT id, company_id, kind, number, book_id, bank_account_id, amount, counterparty, status, transaction_id, remarks, date, updated_at
		FROM cheques
		WHERE id = $1 AND company_id = $2`,
		chequeID, companyID))
}

func lockBook(tx *sql.Tx, companyID, bookID string) (*models.ChequeBook, error) {
	var b models.ChequeBook
	err := tx.QueryRow(`
		SELECT id, company_id, bank_account_id, start_number, end_number, next_number, active, created_at
		FROM cheque_books
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`,
		bookID, companyID).Scan(&b.ID, &b.CompanyID, &b.BankAccountID, &b.StartNumber,
		&b.EndNumber, &b.NextNumber, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func fetchCheque(row rowScanner) (*models.Cheque, error) {
	var c models.Cheque
	var bookID, bankAccountID, transactionID sql.NullString
	err := row.Scan(&c.ID, &c.CompanyID, &c.Kind, &c.Number, &bookID, &bankAccountID,
		&c.Amount, &c.Counterparty, &c.Status, &transactionID, &c.Remarks, &c.Date, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.BookID = bookID.String
	c.BankAccountID = bankAccountID.String
	c.TransactionID = transactionID.String
	return &c, nil
}

// lockCheque serializes concurrent transitions on the same cheque.
func lockCheque(tx *sql.Tx, companyID, chequeID string) (*models.Cheque, error) {
	return fetchCheque(tx.QueryRow(`
		SELECT id, company_id, kind, number, book_id, bank_account_id, amount, counterparty, status, transaction_id, remarks, date, updated_at
		FROM cheques
		WHERE id = $1 AND company_id = $2
		FOR UPDATE`,
		chequeID, companyID))
}

func insertCheque(tx *sql.Tx, c *models.Cheque) error {
	_, err := tx.Exec(`
		INSERT INTO cheques (id, company_id, kind, number, book_id, bank_account_id, amount, counterparty, status, transaction_id, remarks, date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.CompanyID, c.Kind, c.Number, nullable(c.BookID), nullable(c.BankAccountID),
		c.Amount, c.Counterparty, c.Status, nullable(c.TransactionID), c.Remarks, c.Date, c.UpdatedAt)
	return err
}

func updateChequeState(tx *sql.Tx, c *models.Cheque) error {
	c.UpdatedAt = time.Now()
	_, err := tx.Exec(`
		UPDATE cheques
		SET status = $1, bank_account_id = $2, transaction_id = $3, remarks = $4, updated_at = $5
		WHERE id = $6`,
		c.Status, nullable(c.BankAccountID), nullable(c.TransactionID), c.Remarks, c.UpdatedAt, c.ID)
	return err
}

func recordChequeAction(tx *sql.Tx, chequeID, transactionID, action string) error {
	_, err := tx.Exec(`
		INSERT INTO cheque_transactions (cheque_id, transaction_id, action, created_at)
		VALUES ($1, $2, $3, $4)`,
		chequeID, transactionID, action, time.Now())
	return err
}

// chequeActionDebitAccount returns the debit-side account of the
// posting a given action recorded, e.g. the cheques-in-hand account of
// the original receive posting.
func chequeActionDebitAccount(tx *sql.Tx, chequeID, action string) (string, error) {
	var accountID string
	err := tx.QueryRow(`
		SELECT te.account_id
		FROM cheque_transactions ct
		JOIN transaction_entries te ON te.transaction_id = ct.transaction_id
		WHERE ct.cheque_id = $1 AND ct.action = $2 AND te.debit_amount > 0
		ORDER BY ct.created_at
		LIMIT 1`,
		chequeID, action).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return accountID, err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
