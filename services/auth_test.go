package services_test

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutorhub/signaling/services"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestJWTAuthenticator(t *testing.T) {
	auth := services.NewJWTAuthenticator("secret")
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		token    string
		wantUser string
		wantRole string
		wantErr  bool
	}{
		{"user_id claim", signToken(t, "secret", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice", "role": "tutor", "exp": exp}), "alice", "tutor", false},
		{"sub fallback", signToken(t, "secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob", "exp": exp}), "bob", "", false},
		{"wrong secret", signToken(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice", "exp": exp}), "", "", true},
		{"expired", signToken(t, "secret", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice", "exp": time.Now().Add(-time.Hour).Unix()}), "", "", true},
		{"other hmac", signToken(t, "secret", jwt.SigningMethodHS512, jwt.MapClaims{"user_id": "alice", "exp": exp}), "", "", true},
		{"no user", signToken(t, "secret", jwt.SigningMethodHS256, jwt.MapClaims{"role": "tutor", "exp": exp}), "", "", true},
		{"garbage", "not-a-token", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := auth.Verify(tt.token)
			if tt.wantErr {
				if !errors.Is(err, services.ErrInvalidCredential) {
					t.Fatalf("expected ErrInvalidCredential, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if id.UserID != tt.wantUser || id.Role != tt.wantRole || id.Anonymous {
				t.Fatalf("unexpected identity %+v", id)
			}
		})
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	if got := services.ExtractToken(r); got != "query-token" {
		t.Fatalf("query token = %q", got)
	}

	r.Header.Set("Authorization", "Bearer header-token")
	if got := services.ExtractToken(r); got != "header-token" {
		t.Fatalf("header should win, got %q", got)
	}
}
