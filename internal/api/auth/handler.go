package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/audit"
	"github.com/good-yellow-bee/wattmon/internal/metrics"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// Handler serves the login, refresh and logout endpoints.
type Handler struct {
	storage        storage.Storage
	jwtService     *JWTService
	tokenService   *TokenService
	lockoutTracker *LockoutTracker
	audit          audit.Logger
	log            zerolog.Logger
}

// NewHandler creates an auth handler.
func NewHandler(store storage.Storage, jwt *JWTService, lockout *LockoutTracker, refreshTTL time.Duration, auditor audit.Logger, logger zerolog.Logger) *Handler {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Handler{
		storage:        store,
		jwtService:     jwt,
		tokenService:   NewTokenService(store, refreshTTL),
		lockoutTracker: lockout,
		audit:          auditor,
		log:            logger.With().Str("component", "auth").Logger(),
	}
}

// Response helpers are local to avoid an import cycle with the api package.

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

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(dataResponse{Data: data})
}

// LoginResponse is returned on successful login and refresh.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeUnauthorized  = "UNAUTHORIZED"
	errCodeAccountLocked = "ACCOUNT_LOCKED"
	errCodeInternalError = "INTERNAL_ERROR"
)

// LoginRequest is the login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the refresh and logout body.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges credentials for an access and a refresh token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "username and password required")
		return
	}

	log := h.log.With().Str("username", req.Username).Logger()

	if h.lockoutTracker.IsLocked(req.Username) {
		metrics.AuthAttemptsTotal.WithLabelValues("locked").Inc()
		log.Warn().Dur("remaining", h.lockoutTracker.RemainingLockoutTime(req.Username)).Msg("login blocked, account locked")
		jsonError(w, http.StatusTooManyRequests, errCodeAccountLocked, "account temporarily locked due to too many failed attempts")
		return
	}

	ctx := r.Context()
	user, err := h.storage.Users().GetByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Msg("login: get user")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if user == nil || !CheckPassword(user.PasswordHash, req.Password) {
		h.lockoutTracker.RecordFailure(req.Username)
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		log.Info().Msg("login failed")
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid credentials")
		return
	}

	h.lockoutTracker.ClearFailures(req.Username)

	resp, err := h.issue(r, user)
	if err != nil {
		log.Error().Err(err).Msg("login: issue tokens")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	h.recordLogin(r, user)
	log.Info().Str("user_id", user.ID).Msg("login success")
	jsonOK(w, resp)
}

// Refresh rotates a refresh token and issues a new access token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "refresh_token required")
		return
	}

	ctx := r.Context()
	user, err := h.tokenService.ValidateRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if !errors.Is(err, ErrInvalidRefreshToken) {
			h.log.Error().Err(err).Msg("refresh: validate token")
		}
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid or expired token")
		return
	}

	accessToken, err := h.jwtService.GenerateToken(user)
	if err != nil {
		h.log.Error().Err(err).Msg("refresh: generate access token")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	refreshToken, err := h.tokenService.RotateRefreshToken(ctx, req.RefreshToken, user.ID)
	if errors.Is(err, ErrInvalidRefreshToken) {
		jsonError(w, http.StatusUnauthorized, errCodeUnauthorized, "invalid or expired token")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("refresh: rotate token")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	metrics.AuthTokensIssued.WithLabelValues("access").Inc()
	metrics.AuthTokensIssued.WithLabelValues("refresh").Inc()
	jsonOK(w, &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    h.jwtService.TTLSeconds(),
		TokenType:    "Bearer",
	})
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "refresh_token required")
		return
	}

	if err := h.tokenService.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.Error().Err(err).Msg("logout: revoke token")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issue(r *http.Request, user *models.User) (*LoginResponse, error) {
	accessToken, err := h.jwtService.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	refreshToken, err := h.tokenService.CreateRefreshToken(r.Context(), user.ID)
	if err != nil {
		return nil, err
	}
	metrics.AuthTokensIssued.WithLabelValues("access").Inc()
	metrics.AuthTokensIssued.WithLabelValues("refresh").Inc()
	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    h.jwtService.TTLSeconds(),
		TokenType:    "Bearer",
	}, nil
}

func (h *Handler) recordLogin(r *http.Request, user *models.User) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	h.audit.Record(r.Context(), audit.Event{
		UserID:      user.ID,
		Action:      models.ActionLogin,
		Model:       "user",
		ObjectID:    user.ID,
		Description: "logged in",
		IP:          ip,
	})
}
