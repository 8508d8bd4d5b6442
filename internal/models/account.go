package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the closed set of account categories.
type AccountType string

const (
	AccountTypeSaving     AccountType = "SAVING"
	AccountTypeChecking   AccountType = "CHECKING"
	AccountTypeBusiness   AccountType = "BUSINESS"
	AccountTypeInvestment AccountType = "INVESTMENT"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeSaving, AccountTypeChecking, AccountTypeBusiness, AccountTypeInvestment:
		return true
	}
	return false
}

// Account is a user-owned balance holder. The balance column is mutated
// only by the ledger engine; everything else is administrative state.
type Account struct {
	ID            int64           `json:"id" db:"id"`
	UserID        int64           `json:"userId" db:"user_id"`
	AccountNumber string          `json:"accountNumber" db:"account_number"`
	AccountType   AccountType     `json:"accountType" db:"account_type"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	IsActive      bool            `json:"isActive" db:"is_active"`
	IsDeleted     bool            `json:"-" db:"is_deleted"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}
