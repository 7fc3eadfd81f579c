package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy describes password complexity requirements.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPasswordPolicy is applied to accounts created through the CLI.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:    10,
	RequireUpper: true,
	RequireLower: true,
	RequireDigit: true,
}

// PasswordValidationError lists every unmet requirement.
type PasswordValidationError struct {
	Messages []string
}

func (e *PasswordValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Validate checks password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	var messages []string

	if len(password) < p.MinLength {
		messages = append(messages, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if p.RequireUpper && !hasUpper {
		messages = append(messages, "password must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		messages = append(messages, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		messages = append(messages, "password must contain a digit")
	}
	if p.RequireSpecial && !hasSpecial {
		messages = append(messages, "password must contain a special character")
	}

	if len(messages) > 0 {
		return &PasswordValidationError{Messages: messages}
	}
	return nil
}

// ValidatePassword checks password against DefaultPasswordPolicy.
func ValidatePassword(password string) error {
	return DefaultPasswordPolicy.Validate(password)
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
