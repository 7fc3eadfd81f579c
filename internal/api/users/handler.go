package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/api/auth"
	"github.com/good-yellow-bee/wattmon/internal/api/middleware"
	"github.com/good-yellow-bee/wattmon/internal/audit"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeConflict         = "CONFLICT"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg(msg)
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
}

// UserResponse is a user without sensitive fields.
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Handler handles account, user administration and settings endpoints.
type Handler struct {
	storage storage.Storage
	audit   audit.Logger
}

// NewHandler creates a users handler.
func NewHandler(store storage.Storage, auditor audit.Logger) *Handler {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Handler{storage: store, audit: auditor}
}

// CreateRequest is the request body for creating a user.
type CreateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ChangePasswordRequest is the request body for changing password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// List returns all users (admin only).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.storage.Users().List(r.Context())
	if err != nil {
		internalError(w, r, err, "list users")
		return
	}

	resp := make([]*UserResponse, len(users))
	for i, u := range users {
		resp[i] = userToResponse(u)
	}
	jsonStatus(w, http.StatusOK, resp)
}

// Create creates a new user (admin only).
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if err := ValidateUsername(req.Username); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := ValidateEmail(req.Email); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	role, err := ValidateRole(req.Role)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(w, r, err, "create user: hash password")
		return
	}

	ctx := r.Context()
	user := models.NewUser(strings.TrimSpace(req.Username), strings.TrimSpace(req.Email), role)
	user.ID = uuid.NewString()
	user.PasswordHash = hash

	if err := h.storage.Users().Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			jsonError(w, http.StatusConflict, errCodeConflict, "username already exists")
			return
		}
		internalError(w, r, err, "create user")
		return
	}

	h.audit.Record(ctx, audit.Event{
		UserID:      middleware.GetUserID(ctx),
		Action:      models.ActionCreate,
		Model:       "user",
		ObjectID:    user.ID,
		Description: "created user " + user.Username,
		IP:          middleware.ClientIP(r),
	})
	zerolog.Ctx(ctx).Info().Str("username", user.Username).Str("new_user_id", user.ID).Msg("user created")

	jsonStatus(w, http.StatusCreated, userToResponse(user))
}

// GetCurrentUser returns the current authenticated user.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.storage.Users().GetByID(ctx, middleware.GetUserID(ctx))
	if errors.Is(err, storage.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "user not found")
		return
	}
	if err != nil {
		internalError(w, r, err, "get current user")
		return
	}
	jsonStatus(w, http.StatusOK, userToResponse(user))
}

// ChangePassword changes the current user's password and revokes all of
// their refresh tokens.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "current_password is required")
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	user, err := h.storage.Users().GetByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "user not found")
		return
	}
	if err != nil {
		internalError(w, r, err, "change password: get user")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		internalError(w, r, err, "change password: hash password")
		return
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()

	if err := h.storage.Users().Update(ctx, user); err != nil {
		internalError(w, r, err, "change password")
		return
	}

	// The password is already changed, so a failed revoke only gets logged.
	if err := h.storage.Tokens().RevokeAllForUser(ctx, userID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("change password: revoke tokens")
	}

	h.audit.Record(ctx, audit.Event{
		UserID:      userID,
		Action:      models.ActionUpdate,
		Model:       "user",
		ObjectID:    userID,
		Description: "changed password",
		IP:          middleware.ClientIP(r),
	})

	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the current user's settings, or defaults when none are
// stored. Reading never creates a row.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.storage.Settings().Get(ctx, middleware.GetUserID(ctx))
	if err != nil {
		internalError(w, r, err, "get settings")
		return
	}
	jsonStatus(w, http.StatusOK, settings)
}

// SettingsRequest is the settings update body. Omitted fields keep their
// current value.
type SettingsRequest struct {
	Theme               *string  `json:"theme"`
	EmailAlerts         *bool    `json:"email_alerts"`
	AlertFrequency      *string  `json:"alert_frequency"`
	LiveRefreshInterval *int     `json:"live_refresh_interval"`
	ShowPredictions     *bool    `json:"show_predictions"`
	MonthlyGoalKWh      *float64 `json:"monthly_goal_kwh"`
}

// UpdateSettings applies a partial settings update.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	settings, err := h.storage.Settings().Get(ctx, userID)
	if err != nil {
		internalError(w, r, err, "update settings: get")
		return
	}
	req.apply(settings)

	if err := settings.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	if err := h.storage.Settings().Upsert(ctx, settings); err != nil {
		internalError(w, r, err, "update settings")
		return
	}

	h.audit.Record(ctx, audit.Event{
		UserID:      userID,
		Action:      models.ActionUpdate,
		Model:       "user_settings",
		ObjectID:    userID,
		Description: "updated settings",
		IP:          middleware.ClientIP(r),
	})
	jsonStatus(w, http.StatusOK, settings)
}

func (req *SettingsRequest) apply(s *models.UserSettings) {
	if req.Theme != nil {
		s.Theme = *req.Theme
	}
	if req.EmailAlerts != nil {
		s.EmailAlerts = *req.EmailAlerts
	}
	if req.AlertFrequency != nil {
		s.AlertFrequency = *req.AlertFrequency
	}
	if req.LiveRefreshInterval != nil {
		s.LiveRefreshInterval = *req.LiveRefreshInterval
	}
	if req.ShowPredictions != nil {
		s.ShowPredictions = *req.ShowPredictions
	}
	if req.MonthlyGoalKWh != nil {
		s.MonthlyGoalKWh = req.MonthlyGoalKWh
	}
}

func userToResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.Format(time.RFC3339),
	}
}
