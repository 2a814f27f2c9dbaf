package handlers_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if userID != "" {
		url += "?token=" + token(t, userID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// waitFor reads frames until one named event arrives, skipping the rest.
func waitFor(t *testing.T, conn *websocket.Conn, event string, v interface{}) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(f.Data, v); err != nil {
				t.Fatalf("decode %s: %v", event, err)
			}
		}
		return
	}
}

func joinAs(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	conn := dial(t, srv, userID)
	send(t, conn, models.EventJoin, models.JoinPayload{UserID: userID})
	var joined models.JoinedPayload
	waitFor(t, conn, models.EventJoined, &joined)
	if joined.UserID != userID || joined.Anonymous {
		t.Fatalf("unexpected joined payload %+v", joined)
	}
	return conn
}

func TestWebSocketRelay(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	alice := joinAs(t, srv, "alice")
	bob := joinAs(t, srv, "bob")

	send(t, alice, models.EventSendMessage, models.SendMessagePayload{
		ReceiverID:      "bob",
		Content:         "hi bob",
		ClientMessageID: "m-1",
	})

	var received models.ReceiveMessagePayload
	waitFor(t, bob, models.EventReceiveMessage, &received)
	if received.Message.Content != "hi bob" || received.Message.SenderID != "alice" || received.ClientMessageID != "m-1" {
		t.Fatalf("unexpected message %+v", received)
	}

	var confirmed models.MessageConfirmedPayload
	waitFor(t, alice, models.EventMessageConfirmed, &confirmed)
	if !confirmed.Delivered || confirmed.MessageID != received.Message.ID {
		t.Fatalf("unexpected confirmation %+v", confirmed)
	}

	var summary models.ConversationSummary
	waitFor(t, bob, models.EventConversationUpdated, &summary)
	if summary.MessageCount != 1 || summary.LastMessage != "hi bob" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	send(t, alice, models.EventSendMessage, models.SendMessagePayload{ReceiverID: "bob", ClientMessageID: "m-2"})
	var failed models.MessageFailedPayload
	waitFor(t, alice, models.EventMessageFailed, &failed)
	if failed.ClientMessageID != "m-2" || failed.Code != services.CodeInvalidMessage {
		t.Fatalf("unexpected failure %+v", failed)
	}
}

func TestWebSocketJoinRules(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	anon := dial(t, srv, "")
	send(t, anon, models.EventJoin, models.JoinPayload{UserID: "mallory"})
	var e models.ErrorPayload
	waitFor(t, anon, models.EventError, &e)
	if e.Action != models.EventJoin || e.Code != services.CodeUnauthorized {
		t.Fatalf("expected anonymous join rejected, got %+v", e)
	}

	alice := dial(t, srv, "alice")
	send(t, alice, models.EventSendMessage, models.SendMessagePayload{ReceiverID: "bob", Content: "early", ClientMessageID: "m-0"})
	var failed models.MessageFailedPayload
	waitFor(t, alice, models.EventMessageFailed, &failed)
	if failed.ClientMessageID != "m-0" || failed.Code != services.CodeUnauthorized {
		t.Fatalf("expected send before join rejected, got %+v", failed)
	}

	send(t, alice, models.EventJoin, models.JoinPayload{UserID: "bob"})
	waitFor(t, alice, models.EventError, &e)
	if e.Code != services.CodeUnauthorized {
		t.Fatalf("expected impersonation rejected, got %+v", e)
	}

	send(t, alice, "teleport", map[string]string{})
	waitFor(t, alice, models.EventError, &e)
	if e.Action != "teleport" || e.Code != services.CodeInvalidMessage {
		t.Fatalf("expected unknown event rejected, got %+v", e)
	}

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, alice, models.EventError, &e)
	if e.Code != services.CodeInvalidMessage {
		t.Fatalf("expected malformed frame rejected, got %+v", e)
	}
}

func TestWebSocketAnonymousJoinAllowed(t *testing.T) {
	h := newHarness(t, services.WithAnonymousJoin(true))
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	anon := dial(t, srv, "")
	send(t, anon, models.EventJoin, models.JoinPayload{UserID: "guest-1"})
	var joined models.JoinedPayload
	waitFor(t, anon, models.EventJoined, &joined)
	if joined.UserID != "guest-1" || !joined.Anonymous {
		t.Fatalf("unexpected joined payload %+v", joined)
	}
}

func TestWebSocketCallFlow(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	alice := joinAs(t, srv, "alice")
	bob := joinAs(t, srv, "bob")

	send(t, alice, models.EventInitiateVideoCall, models.InitiateVideoCallPayload{ReceiverID: "bob", SessionID: "lesson-7"})

	var incoming models.CallEventPayload
	waitFor(t, bob, models.EventIncomingVideoCall, &incoming)
	if incoming.CallerID != "alice" || incoming.SessionID != "lesson-7" || incoming.Status != models.CallStatusRinging {
		t.Fatalf("unexpected incoming call %+v", incoming)
	}
	waitFor(t, alice, models.EventVideoCallRinging, nil)

	send(t, alice, models.EventVideoCallAccepted, models.CallActionPayload{CallID: incoming.CallID})
	var e models.ErrorPayload
	waitFor(t, alice, models.EventError, &e)
	if e.Code != services.CodeUnauthorized || e.CallID == nil || *e.CallID != incoming.CallID {
		t.Fatalf("expected caller answer rejected, got %+v", e)
	}

	send(t, bob, models.EventVideoCallAccepted, models.CallActionPayload{CallID: incoming.CallID})
	var accepted models.CallEventPayload
	waitFor(t, alice, models.EventVideoCallAccepted, &accepted)
	if accepted.Status != models.CallStatusAnswered || accepted.From != models.CallStatusRinging {
		t.Fatalf("unexpected accepted payload %+v", accepted)
	}

	send(t, alice, models.EventWebRTCSignal, map[string]interface{}{
		"callId": incoming.CallID,
		"signal": map[string]string{"type": "offer", "sdp": "v=0"},
	})
	var signal models.WebRTCSignalPayload
	waitFor(t, bob, models.EventWebRTCSignal, &signal)
	if signal.FromID != "alice" || !strings.Contains(string(signal.Signal), "offer") {
		t.Fatalf("unexpected signal %+v", signal)
	}

	send(t, bob, models.EventVideoCallEnded, models.CallActionPayload{CallID: incoming.CallID, Reason: "done"})
	var ended models.CallEventPayload
	waitFor(t, alice, models.EventVideoCallEnded, &ended)
	if ended.Status != models.CallStatusEnded || ended.Reason != "done" {
		t.Fatalf("unexpected ended payload %+v", ended)
	}
}

func TestWebSocketDisconnectLeavesPresence(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	alice := joinAs(t, srv, "alice")
	bob := joinAs(t, srv, "bob")
	bob.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		var update models.ActiveUsersPayload
		waitFor(t, alice, models.EventActiveUsersUpdate, &update)
		if len(update.Users) == 1 && update.Users[0] == "alice" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bob never left, last update %+v", update)
		}
	}
	if h.coord.IsOnline("bob") {
		t.Fatalf("expected bob offline after disconnect")
	}
}
