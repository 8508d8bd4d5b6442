package services

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/horizonbank/backend/internal/ledger"
	"github.com/horizonbank/backend/internal/middleware"
	"github.com/horizonbank/backend/internal/models"
)

// uniqueViolation is the Postgres error code raised when a generated
// account number collides with an existing one.
const uniqueViolation = "23505"

// AccountService handles account provisioning and administrative state.
// It never touches balances; those belong to the ledger engine.
type AccountService struct {
	accounts  *ledger.AccountStore
	validator *ValidationHelper
	log       zerolog.Logger
}

func NewAccountService(accounts *ledger.AccountStore, logger zerolog.Logger) *AccountService {
	return &AccountService{
		accounts:  accounts,
		validator: NewValidationHelper(),
		log:       logger,
	}
}

type CreateAccountRequest struct {
	AccountType string `json:"accountType" validate:"required,oneof=SAVING CHECKING BUSINESS INVESTMENT" example:"SAVING"`
}

type UpdateAccountRequest struct {
	AccountType string `json:"accountType" validate:"required,oneof=SAVING CHECKING BUSINESS INVESTMENT" example:"CHECKING"`
	IsActive    *bool  `json:"isActive" validate:"required" example:"true"`
}

// CreateAccount opens a new account for the authenticated user
// @Summary Create account
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account body CreateAccountRequest true "Account details"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateAccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Generated numbers can collide; retry a few times before giving up.
	var account *models.Account
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		account, err = s.accounts.Create(r.Context(), userID, generateAccountNumber(), models.AccountType(req.AccountType))
		if err == nil {
			break
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			continue
		}
		break
	}
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to create account")
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info().Int64("account_id", account.ID).Str("account_number", account.AccountNumber).
		Int64("user_id", userID).Msg("account created")
	SendJSONResponse(w, http.StatusCreated, account)
}

// ListAccounts lists the authenticated user's accounts
// @Summary List own accounts
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /accounts [get]
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accounts, err := s.accounts.FindAllByUser(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("failed to list accounts")
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount fetches one account
// @Summary Get account by ID
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} models.Account
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [get]
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}
	SendJSONResponse(w, http.StatusOK, account)
}

// UpdateAccount changes the account type or active flag
// @Summary Update account
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param account body UpdateAccountRequest true "New administrative state"
// @Success 200 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [put]
func (s *AccountService) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	updated, err := s.accounts.Update(r.Context(), account.ID, models.AccountType(req.AccountType), *req.IsActive)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
			return
		}
		s.log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to update account")
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, updated)
}

// DeleteAccount soft-deletes an account
// @Summary Soft delete account
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [delete]
func (s *AccountService) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}

	if _, err := s.accounts.SoftDelete(r.Context(), account.ID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
			return
		}
		s.log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to delete account")
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info().Int64("account_id", account.ID).Msg("account soft-deleted")
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}

// RestoreAccount brings a soft-deleted account back (admin only)
// @Summary Restore account
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/restore [put]
func (s *AccountService) RestoreAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	account, err := s.accounts.Restore(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			SendErrorResponse(w, "No soft-deleted account with that id", http.StatusNotFound, nil)
			return
		}
		s.log.Error().Err(err).Int64("account_id", accountID).Msg("failed to restore account")
		SendErrorResponse(w, "Failed to restore account", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info().Int64("account_id", accountID).Msg("account restored")
	SendJSONResponse(w, http.StatusOK, account)
}

// PurgeAccounts permanently removes all soft-deleted accounts (admin only)
// @Summary Purge soft-deleted accounts
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /accounts/purged [delete]
func (s *AccountService) PurgeAccounts(w http.ResponseWriter, r *http.Request) {
	count, err := s.accounts.PurgeDeleted(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to purge accounts")
		SendErrorResponse(w, "Failed to purge accounts", http.StatusInternalServerError, nil)
		return
	}
	if count == 0 {
		SendErrorResponse(w, "No soft-deleted accounts found", http.StatusNotFound, nil)
		return
	}

	s.log.Info().Int64("count", count).Msg("accounts purged")
	SendJSONResponse(w, http.StatusOK, map[string]string{
		"message": strconv.FormatInt(count, 10) + " accounts permanently deleted",
	})
}

// AccountQR renders the account number as a QR code for receiving transfers
// @Summary Account QR code
// @Tags accounts
// @Produce png
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/qr [get]
func (s *AccountService) AccountQR(w http.ResponseWriter, r *http.Request) {
	account, ok := s.ownedAccount(w, r)
	if !ok {
		return
	}

	png, err := qrcode.Encode(account.AccountNumber, qrcode.Medium, 256)
	if err != nil {
		s.log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to encode QR")
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// ownedAccount resolves the accountId URL param and enforces that the
// caller owns it (admins bypass). Responds on failure and returns ok=false.
func (s *AccountService) ownedAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return nil, false
	}

	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return nil, false
	}

	account, err := s.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
			return nil, false
		}
		s.log.Error().Err(err).Int64("account_id", accountID).Msg("failed to fetch account")
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return nil, false
	}

	if account.UserID != userID && middleware.Role(r.Context()) != models.RoleAdmin {
		SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return nil, false
	}
	return account, true
}

func generateAccountNumber() string {
	const digits = "0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
