package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

type echoHandler struct {
	mu           sync.Mutex
	disconnected int
}

func (h *echoHandler) HandleEvent(ctx context.Context, c *Client, ev models.InboundEvent) {
	c.Send(models.Event{Name: "echo", Data: ev.Data})
}

func (h *echoHandler) Heartbeat(ctx context.Context, c *Client) {}

func (h *echoHandler) Disconnected(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.disconnected++
	h.mu.Unlock()
}

func (h *echoHandler) disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnected
}

func newServer(t *testing.T, hub *Hub, limits Limits, handler Handler) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, services.AnonymousIdentity, limits, utils.NewNopLogger())
		client.Run(context.Background(), handler)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func waitForCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", n, hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientEchoAndBadFrames(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())
	srv := newServer(t, hub, Limits{}, &echoHandler{})
	conn := dial(t, srv)

	conn.WriteJSON(map[string]interface{}{"event": "ping", "data": map[string]int{"n": 1}})
	if f := read(t, conn); f.Event != "echo" || string(f.Data) != `{"n":1}` {
		t.Fatalf("unexpected frame %s %s", f.Event, f.Data)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("[1,2,3]"))
	f := read(t, conn)
	var payload models.ErrorPayload
	json.Unmarshal(f.Data, &payload)
	if f.Event != models.EventError || payload.Code != services.CodeInvalidMessage {
		t.Fatalf("expected InvalidMessage error, got %s %+v", f.Event, payload)
	}
}

func TestClientRateLimit(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())
	srv := newServer(t, hub, Limits{EventsPerSecond: 0.01, Burst: 1}, &echoHandler{})
	conn := dial(t, srv)

	conn.WriteJSON(map[string]string{"event": "first"})
	conn.WriteJSON(map[string]string{"event": "second"})

	if f := read(t, conn); f.Event != "echo" {
		t.Fatalf("expected first frame handled, got %s", f.Event)
	}
	f := read(t, conn)
	var payload models.ErrorPayload
	json.Unmarshal(f.Data, &payload)
	if f.Event != models.EventError || payload.Code != codeRateLimited || payload.Action != "second" {
		t.Fatalf("expected rate limit error, got %s %+v", f.Event, payload)
	}
}

func TestHubBroadcastAndShutdown(t *testing.T) {
	hub := NewHub(utils.NewNopLogger())
	handler := &echoHandler{}
	srv := newServer(t, hub, Limits{}, handler)
	a := dial(t, srv)
	b := dial(t, srv)
	waitForCount(t, hub, 2)

	hub.Broadcast(models.Event{Name: models.EventActiveUsersUpdate, Data: models.ActiveUsersPayload{Users: []string{"alice"}, Version: 3}})
	for _, conn := range []*websocket.Conn{a, b} {
		if f := read(t, conn); f.Event != models.EventActiveUsersUpdate {
			t.Fatalf("expected broadcast, got %s", f.Event)
		}
	}

	hub.Shutdown()
	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected normal close, got %v", err)
		}
	}

	waitForCount(t, hub, 0)
	deadline := time.Now().Add(2 * time.Second)
	for handler.disconnects() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 disconnects, got %d", handler.disconnects())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientRooms(t *testing.T) {
	c := NewClient(NewHub(utils.NewNopLogger()), nil, services.AnonymousIdentity, Limits{}, utils.NewNopLogger())
	if len(c.Rooms()) != 0 {
		t.Fatalf("expected no rooms before join")
	}
	c.SetUserID("alice")
	if rooms := c.Rooms(); len(rooms) != 1 || rooms[0] != "alice" {
		t.Fatalf("unexpected rooms %v", rooms)
	}
}
