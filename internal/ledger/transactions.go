package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/horizonbank/backend/internal/models"
)

const transactionColumns = `id, reference, type, amount, description, source_account_id, destination_account_id, performed_by_user_id, created_at, updated_at`

// TransactionLog is the append-only journal. There is intentionally no
// update or delete path: a committed entry is immutable.
type TransactionLog struct {
	db *sql.DB
}

func NewTransactionLog(db *sql.DB) *TransactionLog {
	return &TransactionLog{db: db}
}

// AppendParams describes one journal entry. Account ids are optional
// because each transaction type touches a different pair.
type AppendParams struct {
	Type                 models.TransactionType
	Amount               decimal.Decimal
	Description          string
	SourceAccountID      *int64
	DestinationAccountID *int64
	PerformedByUserID    int64
}

func scanTransaction(row interface{ Scan(dest ...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var source, dest sql.NullInt64
	err := row.Scan(&t.ID, &t.Reference, &t.Type, &t.Amount, &t.Description,
		&source, &dest, &t.PerformedByUserID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if source.Valid {
		t.SourceAccountID = &source.Int64
	}
	if dest.Valid {
		t.DestinationAccountID = &dest.Int64
	}
	return &t, nil
}

// Append writes one immutable entry. It runs on the caller's Querier so
// the engine can place it inside the same transaction as the balance
// updates it describes.
func (l *TransactionLog) Append(ctx context.Context, q Querier, params AppendParams) (*models.Transaction, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO transactions (reference, type, amount, description, source_account_id, destination_account_id, performed_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING `+transactionColumns,
		uuid.NewString(), params.Type, params.Amount, params.Description,
		params.SourceAccountID, params.DestinationAccountID, params.PerformedByUserID)

	txn, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return txn, nil
}

// FindByID fetches a single journal entry.
func (l *TransactionLog) FindByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return txn, nil
}

// FindAllByAccount lists entries touching the account on either side,
// newest first.
func (l *TransactionLog) FindAllByAccount(ctx context.Context, accountID int64) ([]models.Transaction, error) {
	return l.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC`, accountID)
}

// FindAllByUser lists entries performed by the user, newest first.
func (l *TransactionLog) FindAllByUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return l.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE performed_by_user_id = $1
		ORDER BY created_at DESC`, userID)
}

func (l *TransactionLog) list(ctx context.Context, query string, arg any) ([]models.Transaction, error) {
	rows, err := l.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}
