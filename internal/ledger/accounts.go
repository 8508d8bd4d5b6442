package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/horizonbank/backend/internal/models"
)

// Postgres condition codes raised when concurrent transactions collide.
// Both mean the operation lost a race and is safe to retry from a
// fresh read.
const (
	deadlockDetected     = pq.ErrorCode("40P01")
	serializationFailure = pq.ErrorCode("40001")
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Store methods that must run inside the engine's atomic unit take one
// explicitly instead of binding to the pooled handle.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, user_id, account_number, account_type, balance, is_active, is_deleted, created_at, updated_at`

// AccountStore is the durable home of account records. Balance writes
// go exclusively through ApplyBalanceDelta; every other mutation here
// is administrative.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountType, &a.Balance,
		&a.IsActive, &a.IsDeleted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByNumber resolves the external-facing account number to a
// non-deleted account.
func (s *AccountStore) FindByNumber(ctx context.Context, number string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE account_number = $1 AND is_deleted = FALSE`, number)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by number: %w", err)
	}
	return account, nil
}

// FindByID looks up a non-deleted account by its internal id.
func (s *AccountStore) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE id = $1 AND is_deleted = FALSE`, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return account, nil
}

// FindAllByUser lists a user's non-deleted accounts, newest first.
func (s *AccountStore) FindAllByUser(ctx context.Context, userID int64) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1 AND is_deleted = FALSE
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// Create opens an account with a zero balance.
func (s *AccountStore) Create(ctx context.Context, userID int64, number string, accountType models.AccountType) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, account_number, account_type, balance, is_active, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, 0, TRUE, FALSE, NOW(), NOW())
		RETURNING `+accountColumns, userID, number, accountType)

	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Update changes the administrative fields. The balance is deliberately
// out of reach here.
func (s *AccountStore) Update(ctx context.Context, id int64, accountType models.AccountType, isActive bool) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts SET account_type = $1, is_active = $2, updated_at = NOW()
		WHERE id = $3 AND is_deleted = FALSE
		RETURNING `+accountColumns, accountType, isActive, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return account, nil
}

// SoftDelete hides the account from lookups. A soft-deleted account can
// no longer take part in transactions.
func (s *AccountStore) SoftDelete(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts SET is_deleted = TRUE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING `+accountColumns, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("soft delete account: %w", err)
	}
	return account, nil
}

// Restore brings a soft-deleted account back.
func (s *AccountStore) Restore(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts SET is_deleted = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = TRUE
		RETURNING `+accountColumns, id)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("restore account: %w", err)
	}
	return account, nil
}

// PurgeDeleted permanently removes all soft-deleted accounts and
// returns how many rows went away.
func (s *AccountStore) PurgeDeleted(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE is_deleted = TRUE`)
	if err != nil {
		return 0, fmt.Errorf("purge accounts: %w", err)
	}
	return result.RowsAffected()
}

// ApplyBalanceDelta sets the balance to expectedPrior+delta, but only
// if the stored balance still equals expectedPrior. A zero-row update
// means another writer got there first and the whole operation must be
// retried from a fresh read; that conditional is what makes lost
// updates impossible.
func (s *AccountStore) ApplyBalanceDelta(ctx context.Context, q Querier, id int64, delta, expectedPrior decimal.Decimal) error {
	newBalance := expectedPrior.Add(delta)

	result, err := q.ExecContext(ctx, `
		UPDATE accounts SET balance = $1, updated_at = NOW()
		WHERE id = $2 AND balance = $3 AND is_deleted = FALSE`,
		newBalance, id, expectedPrior)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == deadlockDetected || pqErr.Code == serializationFailure) {
			return fmt.Errorf("account %d: %w", id, ErrConflict)
		}
		return fmt.Errorf("apply balance delta: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %d: %w", id, ErrConflict)
	}
	return nil
}
