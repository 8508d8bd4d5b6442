package services

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/horizonbank/backend/internal/ledger"
	"github.com/horizonbank/backend/internal/middleware"
	"github.com/horizonbank/backend/internal/models"
)

// TransactionService is the HTTP surface of the ledger engine. All
// balance mutation requests funnel through here into Engine.Execute;
// the remaining handlers are read-only journal views.
type TransactionService struct {
	engine    *ledger.Engine
	validator *ValidationHelper
	log       zerolog.Logger
}

func NewTransactionService(engine *ledger.Engine, logger zerolog.Logger) *TransactionService {
	return &TransactionService{
		engine:    engine,
		validator: NewValidationHelper(),
		log:       logger,
	}
}

// CreateTransactionRequest is the inbound operation request. Amount is
// decoded as a decimal so fractional values never pass through floats;
// its positivity and scale are enforced by the engine.
type CreateTransactionRequest struct {
	Type                     string          `json:"type" validate:"required,oneof=DEPOSIT WITHDRAW TRANSFER" example:"TRANSFER"`
	AccountNumber            string          `json:"accountNumber" validate:"required,numeric,len=10" example:"1234567890"`
	Amount                   decimal.Decimal `json:"amount" swaggertype:"number" example:"250.75"`
	Description              string          `json:"description" validate:"max=200" example:"Rent"`
	DestinationAccountNumber string          `json:"destinationAccountNumber" validate:"omitempty,numeric,len=10" example:"0987654321"`
}

// CreateTransaction executes one monetary operation
// @Summary Create a transaction
// @Description Execute a deposit, withdrawal or transfer against the authenticated user's account
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param transaction body CreateTransactionRequest true "Operation request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := ts.engine.Execute(r.Context(), ledger.CreateRequest{
		Type:                     models.TransactionType(req.Type),
		AccountNumber:            req.AccountNumber,
		Amount:                   req.Amount,
		Description:              req.Description,
		DestinationAccountNumber: req.DestinationAccountNumber,
	}, actorID)
	if err != nil {
		ts.respondLedgerError(w, err)
		return
	}

	SendJSONResponse(w, http.StatusCreated, txn)
}

// ListTransactions lists the authenticated user's transactions
// @Summary List own transactions
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transactions, err := ts.engine.Journal().FindAllByUser(r.Context(), actorID)
	if err != nil {
		ts.log.Error().Err(err).Int64("user_id", actorID).Msg("failed to list transactions")
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction fetches one transaction by id
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param txId path int true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID, err := strconv.ParseInt(chi.URLParam(r, "txId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	txn, err := ts.engine.Journal().FindByID(r.Context(), txID)
	if err != nil {
		ts.respondLedgerError(w, err)
		return
	}

	if txn.PerformedByUserID != actorID && middleware.Role(r.Context()) != models.RoleAdmin {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, txn)
}

// ListAccountTransactions lists all entries touching one account
// @Summary List transactions for an account
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions [get]
func (ts *TransactionService) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	account, err := ts.engine.Accounts().FindByID(r.Context(), accountID)
	if err != nil {
		ts.respondLedgerError(w, err)
		return
	}

	if account.UserID != actorID && middleware.Role(r.Context()) != models.RoleAdmin {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	transactions, err := ts.engine.Journal().FindAllByAccount(r.Context(), accountID)
	if err != nil {
		ts.log.Error().Err(err).Int64("account_id", accountID).Msg("failed to list account transactions")
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// respondLedgerError translates the engine's typed failures into HTTP
// statuses. Unknown errors are logged and masked as 500s.
func (ts *TransactionService) respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidationError(err), errors.Is(err, ledger.ErrSelfTransfer):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrForbidden):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrDestinationNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, ledger.ErrTransient):
		SendErrorResponse(w, "Operation conflicted with concurrent activity, please retry", http.StatusServiceUnavailable, nil)
	default:
		ts.log.Error().Err(err).Msg("transaction failed")
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
	}
}
