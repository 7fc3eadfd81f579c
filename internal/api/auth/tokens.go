package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

// ErrInvalidRefreshToken is returned for unknown, expired or revoked tokens.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// TokenService handles refresh token operations.
type TokenService struct {
	storage storage.Storage
	ttl     time.Duration
}

// NewTokenService creates a token service.
func NewTokenService(store storage.Storage, ttl time.Duration) *TokenService {
	return &TokenService{storage: store, ttl: ttl}
}

// CreateRefreshToken stores a new refresh token and returns its plaintext.
func (s *TokenService) CreateRefreshToken(ctx context.Context, userID string) (string, error) {
	token, plain, err := models.NewRefreshToken(userID, s.ttl)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.storage.Tokens().Create(ctx, token); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return plain, nil
}

// ValidateRefreshToken returns the user a valid refresh token belongs to.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, plain string) (*models.User, error) {
	token, err := s.storage.Tokens().GetByTokenHash(ctx, models.HashToken(plain))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !token.IsValid(time.Now()) {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.storage.Users().GetByID(ctx, token.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// RevokeRefreshToken revokes a refresh token.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, plain string) error {
	return s.storage.Tokens().RevokeByTokenHash(ctx, models.HashToken(plain))
}

// RotateRefreshToken revokes the old token and issues a new one. A token
// that was already revoked cannot be rotated.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldPlain, userID string) (string, error) {
	if err := s.RevokeRefreshToken(ctx, oldPlain); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}
	return s.CreateRefreshToken(ctx, userID)
}

// CleanupExpiredTokens removes expired and revoked tokens.
func (s *TokenService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return s.storage.Tokens().DeleteExpired(ctx)
}
