package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizbooks/backend/internal/models"
)

var (
	chequeColumns = []string{"id", "company_id", "kind", "number", "book_id", "bank_account_id",
		"amount", "counterparty", "status", "transaction_id", "remarks", "date", "updated_at"}
	bookColumns = []string{"id", "company_id", "bank_account_id", "start_number", "end_number",
		"next_number", "active", "created_at"}
)

func newChequeServiceForTest(t *testing.T) (*ChequeService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	ledger := NewLedgerService(db, nil)
	return NewChequeService(db, ledger), mock, func() { db.Close() }
}

// expectPosting covers the ledger inserts a transition performs inside
// the shared database transaction.
func expectPosting(mock sqlmock.Sqlmock, companyID string, kind models.VoucherKind, number int64) {
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT id\) FROM accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(number\), 0\) \+ 1 FROM transactions`).
		WithArgs(companyID, kind).
		WillReturnRows(sqlmock.NewRows([]string{"number"}).AddRow(number))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO transaction_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO transaction_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestChequeService_Issue(t *testing.T) {
	service, mock, cleanup := newChequeServiceForTest(t)
	defer cleanup()

	now := time.Now()

	t.Run("issue takes the next book number and posts payable vs bank", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, bank_account_id, start_number").
			WithArgs("book-1", "co-1").
			WillReturnRows(sqlmock.NewRows(bookColumns).
				AddRow("book-1", "co-1", "acct-bank", 100, 110, 100, true, now))
		mock.ExpectExec("UPDATE cheque_books SET next_number").
			WithArgs(int64(101), "book-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectPosting(mock, "co-1", models.VoucherPayment, 1)
		mock.ExpectExec("INSERT INTO cheques").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO cheque_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		result, err := service.Issue(context.Background(), "co-1", IssueInput{
			BookID:           "book-1",
			Amount:           decimal.RequireFromString("5000.00"),
			Payee:            "Sharma Traders",
			PayableAccountID: "acct-payable",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(100), result.Cheque.Number)
		assert.Equal(t, models.StatusIssued, result.Cheque.Status)
		assert.Equal(t, models.ChequeIssued, result.Cheque.Kind)
		assert.NotEmpty(t, result.TransactionID)
		require.NotNil(t, result.Transaction)
		require.Len(t, result.Transaction.Entries, 2)
		assert.Equal(t, "acct-payable", result.Transaction.Entries[0].AccountID)
		assert.True(t, result.Transaction.Entries[0].Debit.Equal(decimal.RequireFromString("5000.00")))
		assert.Equal(t, "acct-bank", result.Transaction.Entries[1].AccountID)
		assert.True(t, result.Transaction.Entries[1].Credit.Equal(decimal.RequireFromString("5000.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted book", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, bank_account_id, start_number").
			WithArgs("book-1", "co-1").
			WillReturnRows(sqlmock.NewRows(bookColumns).
				AddRow("book-1", "co-1", "acct-bank", 100, 110, 111, true, now))
		mock.ExpectRollback()

		_, err := service.Issue(context.Background(), "co-1", IssueInput{
			BookID:           "book-1",
			Amount:           decimal.NewFromInt(100),
			Payee:            "Anyone",
			PayableAccountID: "acct-payable",
		})
		assert.ErrorIs(t, err, ErrBookExhausted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("posting failure rolls the whole issue back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, bank_account_id, start_number").
			WithArgs("book-1", "co-1").
			WillReturnRows(sqlmock.NewRows(bookColumns).
				AddRow("book-1", "co-1", "acct-bank", 100, 110, 100, true, now))
		mock.ExpectExec("UPDATE cheque_books SET next_number").
			WithArgs(int64(101), "book-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// Payable account belongs to another company: the posting is
		// rejected, so neither the cursor advance nor a cheque row may
		// survive.
		mock.ExpectQuery(`SELECT COUNT\(DISTINCT id\) FROM accounts`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := service.Issue(context.Background(), "co-1", IssueInput{
			BookID:           "book-1",
			Amount:           decimal.NewFromInt(100),
			Payee:            "Anyone",
			PayableAccountID: "acct-foreign",
		})
		assert.ErrorIs(t, err, ErrCrossCompanyReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChequeService_Receive(t *testing.T) {
	service, mock, cleanup := newChequeServiceForTest(t)
	defer cleanup()

	mock.ExpectBegin()
	expectPosting(mock, "co-1", models.VoucherReceipt, 4)
	mock.ExpectExec("INSERT INTO cheques").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cheque_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := service.Receive(context.Background(), "co-1", ReceiveInput{
		Number:                 200,
		Amount:                 decimal.RequireFromString("3000.00"),
		Drawer:                 "Gupta & Sons",
		ReceivableAccountID:    "acct-receivable",
		ChequesInHandAccountID: "acct-cheques-in-hand",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, result.Cheque.Status)
	assert.Equal(t, models.ChequeReceived, result.Cheque.Kind)
	require.Len(t, result.Transaction.Entries, 2)
	assert.Equal(t, "acct-cheques-in-hand", result.Transaction.Entries[0].AccountID)
	assert.Equal(t, "acct-receivable", result.Transaction.Entries[1].AccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChequeService_Deposit(t *testing.T) {
	service, mock, cleanup := newChequeServiceForTest(t)
	defer cleanup()

	now := time.Now()

	t.Run("deposit a received cheque", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-1", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-1", "co-1", "received", 200, nil, nil, "3000.00", "Gupta & Sons",
					"RECEIVED", "tx-receive", "", now, now))
		mock.ExpectQuery("SELECT te.account_id FROM cheque_transactions").
			WithArgs("chq-1", actionReceive).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct-cheques-in-hand"))
		expectPosting(mock, "co-1", models.VoucherContra, 2)
		mock.ExpectExec("UPDATE cheques").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO cheque_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		result, err := service.Deposit(context.Background(), "co-1", "chq-1", "acct-bank")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeposited, result.Cheque.Status)
		assert.Equal(t, "acct-bank", result.Cheque.BankAccountID)
		require.Len(t, result.Transaction.Entries, 2)
		assert.Equal(t, "acct-bank", result.Transaction.Entries[0].AccountID)
		assert.Equal(t, "acct-cheques-in-hand", result.Transaction.Entries[1].AccountID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deposit fails outside RECEIVED or BOUNCED, with no writes", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-2", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-2", "co-1", "received", 201, nil, "acct-bank", "900.00", "Gupta & Sons",
					"CLEARED", "tx-dep", "", now, now))
		mock.ExpectRollback()

		_, err := service.Deposit(context.Background(), "co-1", "chq-2", "acct-bank")
		var transitionErr *InvalidTransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, models.StatusCleared, transitionErr.From)
		assert.Equal(t, models.StatusDeposited, transitionErr.To)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("issued cheques cannot be deposited by the issuer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-3", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-3", "co-1", "issued", 100, "book-1", "acct-bank", "5000.00", "Sharma Traders",
					"ISSUED", "tx-issue", "", now, now))
		mock.ExpectRollback()

		_, err := service.Deposit(context.Background(), "co-1", "chq-3", "acct-bank")
		var transitionErr *InvalidTransitionError
		assert.ErrorAs(t, err, &transitionErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a bounced cheque may be re-deposited", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-4", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-4", "co-1", "received", 202, nil, "acct-bank", "1200.00", "Gupta & Sons",
					"BOUNCED", "tx-bounce", "insufficient funds", now, now))
		mock.ExpectQuery("SELECT te.account_id FROM cheque_transactions").
			WithArgs("chq-4", actionReceive).
			WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct-cheques-in-hand"))
		expectPosting(mock, "co-1", models.VoucherContra, 9)
		mock.ExpectExec("UPDATE cheques").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO cheque_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		result, err := service.Deposit(context.Background(), "co-1", "chq-4", "acct-bank")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeposited, result.Cheque.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChequeService_Bounce(t *testing.T) {
	service, mock, cleanup := newChequeServiceForTest(t)
	defer cleanup()

	now := time.Now()

	txnColumns := []string{"id", "company_id", "number", "voucher_kind", "date", "status", "narration", "reference", "reversal_of", "created_at"}
	entryColumns := []string{"id", "transaction_id", "account_id", "debit_amount", "credit_amount", "description", "created_at"}

	t.Run("bounce reverses the deposit and posts charges", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-1", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-1", "co-1", "received", 200, nil, "acct-bank", "3000.00", "Gupta & Sons",
					"DEPOSITED", "tx-deposit", "", now, now))
		// Reversal of the deposit posting.
		mock.ExpectQuery("SELECT id, company_id, number, voucher_kind").
			WithArgs("tx-deposit", "co-1").
			WillReturnRows(sqlmock.NewRows(txnColumns).
				AddRow("tx-deposit", "co-1", 2, "contra", now, "posted", "Cheque #200 deposited", "", nil, now))
		mock.ExpectQuery("SELECT id, transaction_id, account_id").
			WithArgs("tx-deposit").
			WillReturnRows(sqlmock.NewRows(entryColumns).
				AddRow("e-1", "tx-deposit", "acct-bank", "3000.00", "0", "", now).
				AddRow("e-2", "tx-deposit", "acct-cheques-in-hand", "0", "3000.00", "", now))
		mock.ExpectQuery(`SELECT COALESCE\(MAX\(number\), 0\) \+ 1 FROM transactions`).
			WithArgs("co-1", models.VoucherReversal).
			WillReturnRows(sqlmock.NewRows([]string{"number"}).AddRow(1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transaction_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO cheque_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		// Separate posting for the bounce charges.
		expectPosting(mock, "co-1", models.VoucherJournal, 5)
		mock.ExpectExec("INSERT INTO cheque_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE cheques").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.Bounce(context.Background(), "co-1", "chq-1",
			"insufficient funds", decimal.RequireFromString("50.00"), "acct-bank-charges")
		require.NoError(t, err)
		assert.Equal(t, models.StatusBounced, result.Cheque.Status)
		assert.Equal(t, "insufficient funds", result.Cheque.Remarks)
		// The linked posting is now the reversal: bank credited back.
		require.Len(t, result.Transaction.Entries, 2)
		assert.True(t, result.Transaction.Entries[0].Credit.Equal(decimal.RequireFromString("3000.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bounce requires DEPOSITED", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-2", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-2", "co-1", "received", 201, nil, nil, "900.00", "Gupta & Sons",
					"RECEIVED", "tx-receive", "", now, now))
		mock.ExpectRollback()

		_, err := service.Bounce(context.Background(), "co-1", "chq-2",
			"reason", decimal.Zero, "")
		var transitionErr *InvalidTransitionError
		assert.ErrorAs(t, err, &transitionErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChequeService_StopPayment(t *testing.T) {
	service, mock, cleanup := newChequeServiceForTest(t)
	defer cleanup()

	now := time.Now()

	t.Run("stop payment on a cleared cheque is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-1", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-1", "co-1", "issued", 100, "book-1", "acct-bank", "5000.00", "Sharma Traders",
					"CLEARED", "tx-issue", "", now, now))
		mock.ExpectRollback()

		_, err := service.StopPayment(context.Background(), "co-1", "chq-1", "fraud")
		var transitionErr *InvalidTransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, models.StatusCleared, transitionErr.From)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChequeService_Cancel(t *testing.T) {
	service, mock, cleanup := newChequeServiceForTest(t)
	defer cleanup()

	now := time.Now()

	t.Run("cancel a received cheque that was never deposited", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-1", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-1", "co-1", "received", 200, nil, nil, "3000.00", "Gupta & Sons",
					"RECEIVED", "tx-receive", "", now, now))
		mock.ExpectExec("UPDATE cheques").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := service.Cancel(context.Background(), "co-1", "chq-1", "returned to drawer")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, result.Cheque.Status)
		assert.Empty(t, result.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancel a cleared cheque is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-2", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-2", "co-1", "received", 201, nil, "acct-bank", "900.00", "Gupta & Sons",
					"CLEARED", "tx-dep", "", now, now))
		mock.ExpectRollback()

		_, err := service.Cancel(context.Background(), "co-1", "chq-2", "too late")
		var transitionErr *InvalidTransitionError
		assert.ErrorAs(t, err, &transitionErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancel an issued cheque with a live posting is rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, company_id, kind, number").
			WithArgs("chq-3", "co-1").
			WillReturnRows(sqlmock.NewRows(chequeColumns).
				AddRow("chq-3", "co-1", "issued", 100, "book-1", "acct-bank", "5000.00", "Sharma Traders",
					"ISSUED", "tx-issue", "", now, now))
		mock.ExpectRollback()

		_, err := service.Cancel(context.Background(), "co-1", "chq-3", "wrong payee")
		var transitionErr *InvalidTransitionError
		assert.ErrorAs(t, err, &transitionErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
