package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of monetary operations.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "DEPOSIT"
	TransactionWithdraw TransactionType = "WITHDRAW"
	TransactionTransfer TransactionType = "TRANSFER"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionWithdraw, TransactionTransfer:
		return true
	}
	return false
}

// Transaction is an immutable journal entry. A DEPOSIT carries only the
// destination account, a WITHDRAW only the source, a TRANSFER both.
// Rows are never updated or deleted once written.
type Transaction struct {
	ID                   int64           `json:"id" db:"id"`
	Reference            string          `json:"reference" db:"reference"`
	Type                 TransactionType `json:"type" db:"type"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Description          string          `json:"description,omitempty" db:"description"`
	SourceAccountID      *int64          `json:"sourceAccountId" db:"source_account_id"`
	DestinationAccountID *int64          `json:"destinationAccountId" db:"destination_account_id"`
	PerformedByUserID    int64           `json:"performedByUserId" db:"performed_by_user_id"`
	CreatedAt            time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time       `json:"updatedAt" db:"updated_at"`
}
