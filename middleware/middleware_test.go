package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"tutorhub/signaling/services"
)

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"https://app.tutorhub.test"}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	tests := []struct {
		name         string
		origin       string
		method       string
		expectStatus int
		expectOrigin string
	}{
		{name: "allowed origin", origin: "https://app.tutorhub.test", method: http.MethodGet, expectStatus: http.StatusOK, expectOrigin: "https://app.tutorhub.test"},
		{name: "unknown origin", origin: "https://evil.test", method: http.MethodGet, expectStatus: http.StatusOK},
		{name: "no origin", method: http.MethodGet, expectStatus: http.StatusOK},
		{name: "preflight", origin: "https://app.tutorhub.test", method: http.MethodOptions, expectStatus: http.StatusNoContent, expectOrigin: "https://app.tutorhub.test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ping", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.expectOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.expectOrigin, got)
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.tutorhub.test"}
	if !OriginAllowed(allowed, "https://app.tutorhub.test") || OriginAllowed(allowed, "https://evil.test") {
		t.Fatalf("origin list not enforced")
	}
	if !OriginAllowed(nil, "https://anything.test") {
		t.Fatalf("empty list should allow any origin")
	}
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "middleware-secret"
	router := gin.New()
	router.Use(Auth(services.NewJWTAuthenticator(secret)))
	router.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	valid, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tutor-9",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tutor-9",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(secret))

	tests := []struct {
		name         string
		header       string
		query        string
		expectStatus int
		expectBody   string
	}{
		{name: "bearer header", header: "Bearer " + valid, expectStatus: http.StatusOK, expectBody: "tutor-9"},
		{name: "query token", query: "?token=" + valid, expectStatus: http.StatusOK, expectBody: "tutor-9"},
		{name: "missing", expectStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, expectStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectStatus {
				t.Fatalf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
			if tt.expectBody != "" && w.Body.String() != tt.expectBody {
				t.Fatalf("expected user %q, got %q", tt.expectBody, w.Body.String())
			}
		})
	}
}
