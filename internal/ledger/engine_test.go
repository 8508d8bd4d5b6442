package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonbank/backend/internal/models"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(db, zerolog.Nop()), mock
}

func accountRow(id, userID int64, number, balance string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "account_number", "account_type", "balance",
		"is_active", "is_deleted", "created_at", "updated_at",
	}).AddRow(id, userID, number, "CHECKING", balance, true, false, now, now)
}

func transactionRow(id int64, txType, amount string, sourceID, destID any, performedBy int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "reference", "type", "amount", "description", "source_account_id",
		"destination_account_id", "performed_by_user_id", "created_at", "updated_at",
	}).AddRow(id, "ba7ce162-4c33-4f5d-9c58-2f0db1a2f21e", txType, amount, "", sourceID, destID, performedBy, now, now)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEngine_Execute_Deposit(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("1300.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "DEPOSIT", dec("300.00"), "payday", nil, int64(1), int64(10)).
		WillReturnRows(transactionRow(1, "DEPOSIT", "300.00", nil, int64(1), 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionDeposit,
		AccountNumber: "1234567890",
		Amount:        dec("300.00"),
		Description:   "payday",
	}, 10)

	require.NoError(t, err)
	assert.Equal(t, models.TransactionDeposit, txn.Type)
	require.NotNil(t, txn.DestinationAccountID)
	assert.Equal(t, int64(1), *txn.DestinationAccountID)
	assert.Nil(t, txn.SourceAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_WithdrawInsufficientFunds(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "100.00"))

	_, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionWithdraw,
		AccountNumber: "1234567890",
		Amount:        dec("250.00"),
	}, 10)

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	// Rejected before any write; no transaction was even begun.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_WithdrawToZero(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "300.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("0.00"), int64(1), dec("300.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "WITHDRAW", dec("300.00"), "", int64(1), nil, int64(10)).
		WillReturnRows(transactionRow(2, "WITHDRAW", "300.00", int64(1), nil, 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionWithdraw,
		AccountNumber: "1234567890",
		Amount:        dec("300.00"),
	}, 10)

	require.NoError(t, err)
	require.NotNil(t, txn.SourceAccountID)
	assert.Equal(t, int64(1), *txn.SourceAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_TransferSuccess(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("0987654321").
		WillReturnRows(accountRow(2, 20, "0987654321", "500.00"))
	mock.ExpectBegin()
	// Lower account id goes first; the 250 leaving one side arrives on the other.
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("750.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("750.00"), int64(2), dec("500.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "TRANSFER", dec("250.00"), "rent", int64(1), int64(2), int64(10)).
		WillReturnRows(transactionRow(3, "TRANSFER", "250.00", int64(1), int64(2), 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:                     models.TransactionTransfer,
		AccountNumber:            "1234567890",
		DestinationAccountNumber: "0987654321",
		Amount:                   dec("250.00"),
		Description:              "rent",
	}, 10)

	require.NoError(t, err)
	require.NotNil(t, txn.SourceAccountID)
	require.NotNil(t, txn.DestinationAccountID)
	assert.Equal(t, int64(1), *txn.SourceAccountID)
	assert.Equal(t, int64(2), *txn.DestinationAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_TransferOrdersWritesByAccountID(t *testing.T) {
	engine, mock := newTestEngine(t)

	// Destination has the lower id, so its credit is applied before the
	// source debit. Crossing transfers then always lock rows in the same
	// order and cannot deadlock each other.
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(5, 10, "1234567890", "1000.00"))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("0987654321").
		WillReturnRows(accountRow(2, 20, "0987654321", "500.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("550.00"), int64(2), dec("500.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("950.00"), int64(5), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "TRANSFER", dec("50.00"), "", int64(5), int64(2), int64(10)).
		WillReturnRows(transactionRow(5, "TRANSFER", "50.00", int64(5), int64(2), 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:                     models.TransactionTransfer,
		AccountNumber:            "1234567890",
		DestinationAccountNumber: "0987654321",
		Amount:                   dec("50.00"),
	}, 10)

	require.NoError(t, err)
	require.NotNil(t, txn.SourceAccountID)
	require.NotNil(t, txn.DestinationAccountID)
	assert.Equal(t, int64(5), *txn.SourceAccountID)
	assert.Equal(t, int64(2), *txn.DestinationAccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_TransferDestinationConflictRetries(t *testing.T) {
	engine, mock := newTestEngine(t)

	// First attempt: the debit lands but the destination balance went
	// stale, so the whole transaction rolls back and is retried.
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("0987654321").
		WillReturnRows(accountRow(2, 20, "0987654321", "500.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("900.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("600.00"), int64(2), dec("500.00")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	// Second attempt re-reads both sides and commits.
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("0987654321").
		WillReturnRows(accountRow(2, 20, "0987654321", "650.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("900.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("750.00"), int64(2), dec("650.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "TRANSFER", dec("100.00"), "", int64(1), int64(2), int64(10)).
		WillReturnRows(transactionRow(6, "TRANSFER", "100.00", int64(1), int64(2), 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:                     models.TransactionTransfer,
		AccountNumber:            "1234567890",
		DestinationAccountNumber: "0987654321",
		Amount:                   dec("100.00"),
	}, 10)

	require.NoError(t, err)
	assert.Equal(t, models.TransactionTransfer, txn.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_DeadlockRetried(t *testing.T) {
	engine, mock := newTestEngine(t)

	// A database-reported deadlock or serialization failure is the same
	// lost race as a stale balance: roll back and retry from a fresh read.
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("900.00"), int64(1), dec("1000.00")).
		WillReturnError(&pq.Error{Code: "40P01"})
	mock.ExpectRollback()

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("900.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "WITHDRAW", dec("100.00"), "", int64(1), nil, int64(10)).
		WillReturnRows(transactionRow(7, "WITHDRAW", "100.00", int64(1), nil, 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionWithdraw,
		AccountNumber: "1234567890",
		Amount:        dec("100.00"),
	}, 10)

	require.NoError(t, err)
	assert.Equal(t, models.TransactionWithdraw, txn.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_SelfTransfer(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))

	_, err := engine.Execute(context.Background(), CreateRequest{
		Type:                     models.TransactionTransfer,
		AccountNumber:            "1234567890",
		DestinationAccountNumber: "1234567890",
		Amount:                   dec("50.00"),
	}, 10)

	assert.ErrorIs(t, err, ErrSelfTransfer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_ForbiddenActor(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))

	_, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionWithdraw,
		AccountNumber: "1234567890",
		Amount:        dec("50.00"),
	}, 99)

	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_DestinationMissing(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("0000000000").
		WillReturnError(sql.ErrNoRows)

	_, err := engine.Execute(context.Background(), CreateRequest{
		Type:                     models.TransactionTransfer,
		AccountNumber:            "1234567890",
		DestinationAccountNumber: "0000000000",
		Amount:                   dec("50.00"),
	}, 10)

	assert.ErrorIs(t, err, ErrDestinationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_ConflictRetriesThenSucceeds(t *testing.T) {
	engine, mock := newTestEngine(t)

	// First attempt loses the race: zero rows matched the expected balance.
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("900.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	// Second attempt re-reads the fresh balance and wins.
	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "800.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("700.00"), int64(1), dec("800.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), "WITHDRAW", dec("100.00"), "", int64(1), nil, int64(10)).
		WillReturnRows(transactionRow(4, "WITHDRAW", "100.00", int64(1), nil, 10))
	mock.ExpectCommit()

	txn, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionWithdraw,
		AccountNumber: "1234567890",
		Amount:        dec("100.00"),
	}, 10)

	require.NoError(t, err)
	assert.Equal(t, models.TransactionWithdraw, txn.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_ConflictExhaustsRetries(t *testing.T) {
	engine, mock := newTestEngine(t)

	for i := 0; i < defaultMaxRetries; i++ {
		mock.ExpectQuery("SELECT (.+) FROM accounts").
			WithArgs("1234567890").
			WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs(dec("900.00"), int64(1), dec("1000.00")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	_, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionWithdraw,
		AccountNumber: "1234567890",
		Amount:        dec("100.00"),
	}, 10)

	assert.ErrorIs(t, err, ErrTransient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_JournalFailureRollsBack(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("1234567890").
		WillReturnRows(accountRow(1, 10, "1234567890", "1000.00"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance").
		WithArgs(dec("1300.00"), int64(1), dec("1000.00")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO transactions").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := engine.Execute(context.Background(), CreateRequest{
		Type:          models.TransactionDeposit,
		AccountNumber: "1234567890",
		Amount:        dec("300.00"),
	}, 10)

	// The balance update never becomes visible without its journal entry.
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Execute_RejectsInvalidRequests(t *testing.T) {
	engine, mock := newTestEngine(t)

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"zero amount", CreateRequest{Type: models.TransactionDeposit, AccountNumber: "1234567890", Amount: dec("0")}},
		{"negative amount", CreateRequest{Type: models.TransactionDeposit, AccountNumber: "1234567890", Amount: dec("-5.00")}},
		{"sub-cent amount", CreateRequest{Type: models.TransactionDeposit, AccountNumber: "1234567890", Amount: dec("0.001")}},
		{"unknown type", CreateRequest{Type: "REVERSAL", AccountNumber: "1234567890", Amount: dec("10.00")}},
		{"transfer without destination", CreateRequest{Type: models.TransactionTransfer, AccountNumber: "1234567890", Amount: dec("10.00")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Execute(context.Background(), tc.req, 10)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}

	// Validation rejects before any database access.
	assert.NoError(t, mock.ExpectationsWereMet())
}
