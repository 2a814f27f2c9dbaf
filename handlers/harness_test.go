package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"tutorhub/signaling/db"
	"tutorhub/signaling/handlers"
	"tutorhub/signaling/models"
	"tutorhub/signaling/realtime"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

const testSecret = "test-secret"

type harness struct {
	router        *gin.Engine
	coord         *services.Coordinator
	conversations *db.MemoryConversationStore
	calls         *db.MemoryCallStore
	notifications *db.MemoryNotificationStore
	hub           *realtime.Hub
}

func newHarness(t *testing.T, opts ...services.CoordinatorOption) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := utils.NewNopLogger()
	h := &harness{
		conversations: db.NewMemoryConversationStore(nil),
		calls:         db.NewMemoryCallStore(nil),
		notifications: db.NewMemoryNotificationStore(nil),
		hub:           realtime.NewHub(logger),
	}

	registry := services.NewRegistry()
	dispatcher := services.NewDispatcher(registry, h.hub, h.notifications, time.Hour, logger)
	h.coord = services.NewCoordinator(registry, h.conversations, h.calls, dispatcher, logger, opts...)

	auth := services.NewJWTAuthenticator(testSecret)
	ice := services.NewTraversalProvider("", "", time.Second, nil, logger)

	h.router = handlers.NewRouter(handlers.Routes{
		Auth:          auth,
		Logger:        logger,
		Connections:   h.hub.Count,
		WebSocket:     handlers.NewWebSocketHandler(h.coord, h.hub, auth, nil, realtime.Limits{}, logger),
		Calls:         handlers.NewCallHandler(h.coord, h.calls, ice, logger),
		Conversations: handlers.NewConversationHandler(h.coord, h.conversations, logger),
		Notifications: handlers.NewNotificationHandler(h.notifications, logger),
		Presence:      handlers.NewPresenceHandler(h.coord, nil, logger),
	})
	return h
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    "student",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// do performs a request as userID; an empty userID sends no credential.
func (h *harness) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type stubConn struct {
	id string

	mu     sync.Mutex
	events []models.Event
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(event models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

