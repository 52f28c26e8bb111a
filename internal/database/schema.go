package database

import (
	"database/sql"
	"fmt"
)

// Schema statements for the ledger engine. NUMERIC(18,4) keeps amounts
// exact; balances are never stored, only aggregated.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		company_id TEXT NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (company_id, code)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		company_id TEXT NOT NULL,
		number BIGINT NOT NULL,
		voucher_kind TEXT NOT NULL,
		date DATE NOT NULL,
		status TEXT NOT NULL,
		narration TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		reversal_of UUID REFERENCES transactions(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (company_id, voucher_kind, number)
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_entries (
		id UUID PRIMARY KEY,
		transaction_id UUID NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		account_id UUID NOT NULL REFERENCES accounts(id),
		debit_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		credit_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		bank_date DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_account ON transaction_entries(account_id)`,
	`CREATE TABLE IF NOT EXISTS cheque_books (
		id UUID PRIMARY KEY,
		company_id TEXT NOT NULL,
		bank_account_id UUID NOT NULL REFERENCES accounts(id),
		start_number BIGINT NOT NULL,
		end_number BIGINT NOT NULL,
		next_number BIGINT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cheques (
		id UUID PRIMARY KEY,
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		number BIGINT NOT NULL,
		book_id UUID REFERENCES cheque_books(id),
		bank_account_id UUID REFERENCES accounts(id),
		amount NUMERIC(18,4) NOT NULL,
		counterparty TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_id UUID REFERENCES transactions(id),
		remarks TEXT NOT NULL DEFAULT '',
		date DATE NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cheque_transactions (
		cheque_id UUID NOT NULL REFERENCES cheques(id),
		transaction_id UUID NOT NULL REFERENCES transactions(id),
		action TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (cheque_id, transaction_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bank_statement_entries (
		id UUID PRIMARY KEY,
		company_id TEXT NOT NULL,
		bank_account_id UUID NOT NULL REFERENCES accounts(id),
		statement_date DATE NOT NULL,
		amount NUMERIC(18,4) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		matched_entry_id UUID REFERENCES transaction_entries(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_statement_account_status ON bank_statement_entries(bank_account_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_statement_matched_entry ON bank_statement_entries(matched_entry_id) WHERE matched_entry_id IS NOT NULL AND status = 'matched'`,
}

// EnsureSchema creates the engine tables if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	return nil
}
