package services

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/horizonbank/backend/internal/middleware"
	"github.com/horizonbank/backend/internal/models"
)

// UserService handles profile maintenance and the administrative
// soft-delete lifecycle for users.
type UserService struct {
	db        *sql.DB
	validator *ValidationHelper
	log       zerolog.Logger
}

func NewUserService(db *sql.DB, logger zerolog.Logger) *UserService {
	return &UserService{
		db:        db,
		validator: NewValidationHelper(),
		log:       logger,
	}
}

type UpdateProfileRequest struct {
	FullName string `json:"fullName" validate:"omitempty,min=2" example:"Jane Doe"`
	Password string `json:"password" validate:"omitempty,min=8" example:"newpassword123"`
}

// UpdateProfile updates the authenticated user's name or password
// @Summary Update own profile
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param profile body UpdateProfileRequest true "Fields to update"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/me [put]
func (s *UserService) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req UpdateProfileRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.FullName == "" && req.Password == "" {
		SendErrorResponse(w, "Nothing to update", http.StatusBadRequest, nil)
		return
	}

	if req.Password != "" {
		hashed, err := hashPassword(req.Password)
		if err != nil {
			s.log.Error().Err(err).Msg("password hashing failed")
			SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
			return
		}
		if _, err := s.db.ExecContext(r.Context(),
			`UPDATE users SET password = $1, updated_at = NOW() WHERE id = $2 AND is_deleted = FALSE`,
			hashed, userID); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("password update failed")
			SendErrorResponse(w, "Failed to update profile", http.StatusInternalServerError, nil)
			return
		}
	}

	var user models.User
	var err error
	if req.FullName != "" {
		err = s.db.QueryRowContext(r.Context(), `
			UPDATE users SET full_name = $1, updated_at = NOW()
			WHERE id = $2 AND is_deleted = FALSE
			RETURNING id, email, full_name, role, last_login, created_at, updated_at`,
			req.FullName, userID).
			Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &user.LastLogin, &user.CreatedAt, &user.UpdatedAt)
	} else {
		err = s.db.QueryRowContext(r.Context(), `
			SELECT id, email, full_name, role, last_login, created_at, updated_at
			FROM users WHERE id = $1 AND is_deleted = FALSE`, userID).
			Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &user.LastLogin, &user.CreatedAt, &user.UpdatedAt)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		s.log.Error().Err(err).Int64("user_id", userID).Msg("profile update failed")
		SendErrorResponse(w, "Failed to update profile", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info().Int64("user_id", userID).Msg("profile updated")
	SendJSONResponse(w, http.StatusOK, user)
}

// DeleteMe soft-deletes the authenticated user
// @Summary Delete own account
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /users/me [delete]
func (s *UserService) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	res, err := s.db.ExecContext(r.Context(),
		`UPDATE users SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`,
		userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("user delete failed")
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	s.log.Info().Int64("user_id", userID).Msg("user soft-deleted")
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

// RestoreUser brings a soft-deleted user back (admin only)
// @Summary Restore user
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} models.User
// @Failure 404 {object} ErrorResponse
// @Router /users/{userId}/restore [put]
func (s *UserService) RestoreUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var user models.User
	err = s.db.QueryRowContext(r.Context(), `
		UPDATE users SET is_deleted = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_deleted = TRUE
		RETURNING id, email, full_name, role, last_login, created_at, updated_at`, userID).
		Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &user.LastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "No soft-deleted user with that id", http.StatusNotFound, nil)
			return
		}
		s.log.Error().Err(err).Int64("user_id", userID).Msg("user restore failed")
		SendErrorResponse(w, "Failed to restore user", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info().Int64("user_id", userID).Msg("user restored")
	SendJSONResponse(w, http.StatusOK, user)
}

// PurgeUsers permanently removes all soft-deleted users (admin only)
// @Summary Purge soft-deleted users
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /users/purged [delete]
func (s *UserService) PurgeUsers(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.ExecContext(r.Context(), `DELETE FROM users WHERE is_deleted = TRUE`)
	if err != nil {
		s.log.Error().Err(err).Msg("user purge failed")
		SendErrorResponse(w, "Failed to purge users", http.StatusInternalServerError, nil)
		return
	}

	count, _ := res.RowsAffected()
	if count == 0 {
		SendErrorResponse(w, "No soft-deleted users found", http.StatusNotFound, nil)
		return
	}

	s.log.Info().Int64("count", count).Msg("users purged")
	SendJSONResponse(w, http.StatusOK, map[string]string{
		"message": strconv.FormatInt(count, 10) + " users permanently deleted",
	})
}
