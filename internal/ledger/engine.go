// Package ledger holds the transaction and balance consistency engine:
// the account store, the append-only transaction log, and the engine
// that is the sole writer of account balances.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/horizonbank/backend/internal/models"
	"github.com/horizonbank/backend/internal/money"
)

// defaultMaxRetries bounds how often a conflicting operation is retried
// before it is surfaced as transient. Business-rule failures are never
// retried.
const defaultMaxRetries = 3

// CreateRequest is one monetary operation as handed over by the API
// layer, already authenticated.
type CreateRequest struct {
	Type                     models.TransactionType
	AccountNumber            string
	Amount                   decimal.Decimal
	Description              string
	DestinationAccountNumber string
}

// Engine executes monetary operations. Each operation validates its
// preconditions against a fresh read, then commits the conditional
// balance update(s) and the journal entry as one database transaction:
// either every effect of the operation becomes visible or none does.
type Engine struct {
	db         *sql.DB
	accounts   *AccountStore
	journal    *TransactionLog
	maxRetries int
	log        zerolog.Logger
}

func NewEngine(db *sql.DB, logger zerolog.Logger) *Engine {
	return &Engine{
		db:         db,
		accounts:   NewAccountStore(db),
		journal:    NewTransactionLog(db),
		maxRetries: defaultMaxRetries,
		log:        logger,
	}
}

// Accounts exposes the engine's account store for read paths and
// administrative CRUD. Balance writes still only happen inside Execute.
func (e *Engine) Accounts() *AccountStore { return e.accounts }

// Journal exposes the read side of the transaction log.
func (e *Engine) Journal() *TransactionLog { return e.journal }

// Execute runs one DEPOSIT, WITHDRAW or TRANSFER on behalf of actorID
// and returns the committed journal entry. Conflicting concurrent
// writes are retried from a fresh read up to the retry budget; every
// other failure aborts immediately with no state change.
func (e *Engine) Execute(ctx context.Context, req CreateRequest, actorID int64) (*models.Transaction, error) {
	if !req.Type.Valid() {
		return nil, validationErrorf("unknown transaction type %q", req.Type)
	}
	if !money.ValidAmount(req.Amount) {
		return nil, validationErrorf("amount must be positive with at most %d decimal places", money.Scale)
	}
	if req.Type == models.TransactionTransfer && req.DestinationAccountNumber == "" {
		return nil, validationErrorf("destination account number is required for transfers")
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		txn, err := e.attempt(ctx, req, actorID)
		if err == nil {
			e.log.Info().
				Int64("transaction_id", txn.ID).
				Str("reference", txn.Reference).
				Str("type", string(txn.Type)).
				Str("amount", txn.Amount.String()).
				Int64("actor_id", actorID).
				Msg("transaction committed")
			return txn, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
		e.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("account_number", req.AccountNumber).
			Msg("balance conflict, retrying")
	}
	return nil, fmt.Errorf("%w: %v", ErrTransient, lastErr)
}

// attempt performs one optimistic pass: read, validate, then commit the
// conditional writes. A ErrConflict return means the read went stale
// and the caller should try again from scratch.
func (e *Engine) attempt(ctx context.Context, req CreateRequest, actorID int64) (*models.Transaction, error) {
	source, err := e.accounts.FindByNumber(ctx, req.AccountNumber)
	if err != nil {
		return nil, err
	}

	var destination *models.Account
	if req.Type == models.TransactionTransfer {
		destination, err = e.accounts.FindByNumber(ctx, req.DestinationAccountNumber)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil, ErrDestinationNotFound
			}
			return nil, err
		}
	}

	if source.UserID != actorID {
		return nil, ErrForbidden
	}
	if destination != nil && source.ID == destination.ID {
		return nil, ErrSelfTransfer
	}
	if req.Type != models.TransactionDeposit && source.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry := AppendParams{
		Type:              req.Type,
		Amount:            req.Amount,
		Description:       req.Description,
		PerformedByUserID: actorID,
	}

	switch req.Type {
	case models.TransactionDeposit:
		if err := e.accounts.ApplyBalanceDelta(ctx, tx, source.ID, req.Amount, source.Balance); err != nil {
			return nil, err
		}
		entry.DestinationAccountID = &source.ID

	case models.TransactionWithdraw:
		if err := e.accounts.ApplyBalanceDelta(ctx, tx, source.ID, req.Amount.Neg(), source.Balance); err != nil {
			return nil, err
		}
		entry.SourceAccountID = &source.ID

	case models.TransactionTransfer:
		// Touch accounts in ascending id order so crossing transfers
		// acquire their row locks in the same order and cannot deadlock.
		first, second := source, destination
		firstDelta, secondDelta := req.Amount.Neg(), req.Amount
		if destination.ID < source.ID {
			first, second = destination, source
			firstDelta, secondDelta = req.Amount, req.Amount.Neg()
		}
		if err := e.accounts.ApplyBalanceDelta(ctx, tx, first.ID, firstDelta, first.Balance); err != nil {
			return nil, err
		}
		if err := e.accounts.ApplyBalanceDelta(ctx, tx, second.ID, secondDelta, second.Balance); err != nil {
			return nil, err
		}
		entry.SourceAccountID = &source.ID
		entry.DestinationAccountID = &destination.ID
	}

	txn, err := e.journal.Append(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return txn, nil
}
