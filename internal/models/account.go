package models

import (
	"time"
)

// AccountType classifies an account in the chart of accounts.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// BalanceSide is the side that increases an account's balance.
type BalanceSide string

const (
	DebitNormal  BalanceSide = "debit"
	CreditNormal BalanceSide = "credit"
)

// NormalSide returns the normal-balance side for the account type.
func (t AccountType) NormalSide() BalanceSide {
	switch t {
	case AccountAsset, AccountExpense:
		return DebitNormal
	default:
		return CreditNormal
	}
}

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountRevenue, AccountExpense:
		return true
	}
	return false
}

type Account struct {
	ID        string      `json:"id" db:"id"`
	CompanyID string      `json:"company_id" db:"company_id"`
	Code      string      `json:"code" db:"code"`
	Name      string      `json:"name" db:"name"`
	Type      AccountType `json:"type" db:"type"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
