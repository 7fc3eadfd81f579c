package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/audit"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

func setupHandler(t *testing.T) (*Handler, *storage.SQLiteStorage) {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "auth.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}

	hash, err := HashPassword("Correct-horse1")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := models.NewUser("alice", "alice@example.com", models.RoleUser)
	user.ID = uuid.NewString()
	user.PasswordHash = hash
	if err := store.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	lockout := NewLockoutTracker(3, time.Minute)
	t.Cleanup(lockout.Close)

	jwt := NewJWTService([]byte("test-secret-test-secret-test-secret"), 15*time.Minute)
	auditor := audit.NewStoreLogger(store.Activity(), zerolog.Nop())
	return NewHandler(store, jwt, lockout, time.Hour, auditor, zerolog.Nop()), store
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeLogin(t *testing.T, rec *httptest.ResponseRecorder) LoginResponse {
	t.Helper()
	var resp struct {
		Data LoginResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func TestLogin(t *testing.T) {
	h, store := setupHandler(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"valid credentials", LoginRequest{Username: "alice", Password: "Correct-horse1"}, http.StatusOK},
		{"wrong password", LoginRequest{Username: "alice", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", LoginRequest{Username: "bob", Password: "Correct-horse1"}, http.StatusUnauthorized},
		{"missing fields", LoginRequest{Username: "alice"}, http.StatusBadRequest},
		{"bad body", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Login, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	entries, total, err := store.Activity().List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if total != 1 || entries[0].Action != models.ActionLogin || entries[0].IPAddress != "192.0.2.10" {
		t.Errorf("activity = %d entries, first %+v", total, entries)
	}
}

func TestLogin_ReturnsUsableTokens(t *testing.T) {
	h, _ := setupHandler(t)

	rec := postJSON(t, h.Login, LoginRequest{Username: "alice", Password: "Correct-horse1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeLogin(t, rec)
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 900 || resp.RefreshToken == "" {
		t.Errorf("response = %+v", resp)
	}

	claims, err := h.jwtService.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Username != "alice" || claims.Role != models.RoleUser {
		t.Errorf("claims = %+v", claims)
	}
}

func TestLogin_Lockout(t *testing.T) {
	h, _ := setupHandler(t)

	for i := 0; i < 3; i++ {
		postJSON(t, h.Login, LoginRequest{Username: "alice", Password: "wrong"})
	}

	rec := postJSON(t, h.Login, LoginRequest{Username: "alice", Password: "Correct-horse1"})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	h, _ := setupHandler(t)

	login := decodeLogin(t, postJSON(t, h.Login, LoginRequest{Username: "alice", Password: "Correct-horse1"}))

	rec := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}
	rotated := decodeLogin(t, rec)
	if rotated.RefreshToken == login.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	if rec := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: login.RefreshToken}); rec.Code != http.StatusUnauthorized {
		t.Errorf("reused token status = %d, want 401", rec.Code)
	}

	if rec := postJSON(t, h.Logout, RefreshRequest{RefreshToken: rotated.RefreshToken}); rec.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want 204", rec.Code)
	}
	if rec := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: rotated.RefreshToken}); rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout status = %d, want 401", rec.Code)
	}
	if rec := postJSON(t, h.Logout, RefreshRequest{RefreshToken: "unknown"}); rec.Code != http.StatusNoContent {
		t.Errorf("logout of unknown token status = %d, want 204", rec.Code)
	}
}
