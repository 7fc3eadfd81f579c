package auth

import (
	"testing"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!")

func testUser(role models.Role) *models.User {
	return &models.User{ID: "user-123", Username: "alice", Role: role}
}

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTService(testSecret, 15*time.Minute)
	user := testUser(models.RoleAdmin)

	token, err := svc.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != user.ID || claims.Username != user.Username || claims.Role != user.Role {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := NewJWTService(testSecret, 15*time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt-token"},
		{"wrong segments", "a.b"},
		{"invalid signature", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJ1aWQiOiJ0ZXN0In0.invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); err == nil {
				t.Error("expected error for invalid token")
			}
		})
	}
}

func TestJWTService_DifferentSecret(t *testing.T) {
	svc1 := NewJWTService([]byte("secret-one-32-bytes-long!!!!!!!"), time.Minute)
	svc2 := NewJWTService([]byte("secret-two-32-bytes-long!!!!!!!"), time.Minute)

	token, err := svc1.GenerateToken(testUser(models.RoleUser))
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := svc2.ValidateToken(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	svc := NewJWTService(testSecret, time.Minute)
	now := time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	token, err := svc.GenerateToken(testUser(models.RoleUser))
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("expired token was accepted")
	}
}

func TestJWTService_CustomTTL(t *testing.T) {
	svc := NewJWTService(testSecret, time.Minute)
	now := time.Date(2024, 4, 16, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	token, err := svc.GenerateTokenWithTTL(testUser(models.RoleAdmin), 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateTokenWithTTL() error = %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := svc.ValidateToken(token); err != nil {
		t.Errorf("long-lived token rejected: %v", err)
	}

	if _, err := svc.GenerateToken(nil); err == nil {
		t.Error("nil user should fail")
	}
}

func TestJWTService_TTLSeconds(t *testing.T) {
	svc := NewJWTService(testSecret, 15*time.Minute)
	if got := svc.TTLSeconds(); got != 900 {
		t.Errorf("TTLSeconds() = %d, want 900", got)
	}
}
