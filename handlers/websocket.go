package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tutorhub/signaling/middleware"
	"tutorhub/signaling/models"
	"tutorhub/signaling/realtime"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

// WebSocketHandler upgrades connections and routes their frames into the
// coordinator. It is the realtime.Handler for every client it creates.
type WebSocketHandler struct {
	coord    *services.Coordinator
	hub      *realtime.Hub
	auth     services.Authenticator
	upgrader websocket.Upgrader
	limits   realtime.Limits
	logger   *utils.Logger
}

func NewWebSocketHandler(coord *services.Coordinator, hub *realtime.Hub, auth services.Authenticator, allowedOrigins []string, limits realtime.Limits, logger *utils.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		coord: coord,
		hub:   hub,
		auth:  auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
		limits: limits,
		logger: logger.With("handler", "websocket"),
	}
}

// Connect handles GET /ws. A missing or invalid credential still connects,
// bound to the anonymous identity.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	identity := services.AnonymousIdentity
	if token := services.ExtractToken(c.Request); token != "" {
		verified, err := h.auth.Verify(token)
		if err != nil {
			h.logger.Debug("Rejected credential, connecting anonymously", "error", err)
		} else {
			identity = verified
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := realtime.NewClient(h.hub, conn, identity, h.limits, h.logger)
	client.Run(context.WithoutCancel(c.Request.Context()), h)
}

func (h *WebSocketHandler) HandleEvent(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	switch ev.Name {
	case models.EventJoin:
		h.join(ctx, c, ev)
	case models.EventLeave:
		h.coord.Leave(ctx, c)
		c.SetUserID("")
	case models.EventSendMessage:
		h.sendMessage(ctx, c, ev)
	case models.EventMarkRead:
		h.markRead(ctx, c, ev)
	case models.EventInitiateVideoCall:
		h.initiateCall(ctx, c, ev)
	case models.EventVideoCallAccepted, models.EventVideoCallRejected, models.EventVideoCallEnded,
		models.EventVideoCallMissed, models.EventVideoCallFailed:
		h.callAction(ctx, c, ev)
	case models.EventWebRTCSignal:
		h.signal(ctx, c, ev)
	default:
		sendError(c, ev.Name, nil, fmt.Errorf("unknown event %q: %w", ev.Name, services.ErrInvalidMessage))
	}
}

func (h *WebSocketHandler) Heartbeat(ctx context.Context, c *realtime.Client) {
	h.coord.Heartbeat(ctx, c)
}

func (h *WebSocketHandler) Disconnected(ctx context.Context, c *realtime.Client) {
	h.coord.Leave(ctx, c)
}

func (h *WebSocketHandler) join(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	var p models.JoinPayload
	if err := decode(ev, &p); err != nil {
		sendError(c, ev.Name, nil, err)
		return
	}

	userID, err := h.coord.Join(ctx, c, c.Identity(), p.UserID)
	if err != nil {
		sendError(c, ev.Name, nil, err)
		return
	}
	c.SetUserID(userID)
}

func (h *WebSocketHandler) sendMessage(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	var p models.SendMessagePayload
	if err := decode(ev, &p); err != nil {
		messageFailed(c, p.ClientMessageID, err)
		return
	}

	senderID := c.UserID()
	switch {
	case senderID == "":
		messageFailed(c, p.ClientMessageID, fmt.Errorf("join before sending: %w", services.ErrUnauthorized))
		return
	case p.SenderID != "" && p.SenderID != senderID:
		messageFailed(c, p.ClientMessageID, fmt.Errorf("cannot send as %s: %w", p.SenderID, services.ErrUnauthorized))
		return
	}

	// Failures past this point are reported to the sender's room by Relay.
	h.coord.Relay(ctx, services.RelayRequest{
		SenderID:        senderID,
		ReceiverID:      p.ReceiverID,
		Content:         p.Content,
		Type:            p.Type,
		ClientMessageID: p.ClientMessageID,
	})
}

func (h *WebSocketHandler) markRead(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	var p models.MarkReadPayload
	userID, ok := h.joinedDecode(c, ev, &p)
	if !ok {
		return
	}
	if _, err := h.coord.MarkConversationRead(ctx, p.ConversationID, userID); err != nil {
		sendError(c, ev.Name, nil, err)
	}
}

func (h *WebSocketHandler) initiateCall(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	var p models.InitiateVideoCallPayload
	userID, ok := h.joinedDecode(c, ev, &p)
	if !ok {
		return
	}
	_, err := h.coord.InitiateCall(ctx, services.CallRequest{
		CallerID:   userID,
		ReceiverID: p.ReceiverID,
		Type:       p.Type,
		SessionID:  p.SessionID,
	})
	if err != nil {
		sendError(c, ev.Name, nil, err)
	}
}

func (h *WebSocketHandler) callAction(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	var p models.CallActionPayload
	userID, ok := h.joinedDecode(c, ev, &p)
	if !ok {
		return
	}

	var err error
	switch ev.Name {
	case models.EventVideoCallAccepted:
		_, err = h.coord.AnswerCall(ctx, p.CallID, userID)
	case models.EventVideoCallRejected:
		_, err = h.coord.RejectCall(ctx, p.CallID, userID, p.Reason)
	case models.EventVideoCallEnded:
		_, err = h.coord.EndCall(ctx, p.CallID, userID, p.Reason)
	case models.EventVideoCallMissed:
		_, err = h.coord.MissCall(ctx, p.CallID, userID)
	case models.EventVideoCallFailed:
		_, err = h.coord.FailCall(ctx, p.CallID, userID, p.Reason)
	}
	if err != nil {
		sendError(c, ev.Name, &p.CallID, err)
	}
}

func (h *WebSocketHandler) signal(ctx context.Context, c *realtime.Client, ev models.InboundEvent) {
	var p models.WebRTCSignalPayload
	userID, ok := h.joinedDecode(c, ev, &p)
	if !ok {
		return
	}
	if err := h.coord.ForwardSignal(ctx, p.CallID, userID, p.Signal); err != nil {
		sendError(c, ev.Name, &p.CallID, err)
	}
}

// joinedDecode decodes the frame payload into v and returns the joined user,
// reporting an error frame when either step fails.
func (h *WebSocketHandler) joinedDecode(c *realtime.Client, ev models.InboundEvent, v interface{}) (string, bool) {
	userID := c.UserID()
	if userID == "" {
		sendError(c, ev.Name, nil, fmt.Errorf("join before %s: %w", ev.Name, services.ErrUnauthorized))
		return "", false
	}
	if err := decode(ev, v); err != nil {
		sendError(c, ev.Name, nil, err)
		return "", false
	}
	return userID, true
}

func decode(ev models.InboundEvent, v interface{}) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("%s carries no data: %w", ev.Name, services.ErrInvalidMessage)
	}
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", ev.Name, services.ErrInvalidMessage)
	}
	return nil
}

func sendError(c *realtime.Client, action string, callID *uuid.UUID, err error) {
	payload := models.ErrorPayload{
		Action: action,
		Code:   services.ErrorCode(err),
		Error:  err.Error(),
	}
	if callID != nil && *callID != uuid.Nil {
		payload.CallID = callID
	}
	c.Send(models.Event{Name: models.EventError, Data: payload})
}

func messageFailed(c *realtime.Client, clientMessageID string, err error) {
	c.Send(models.Event{Name: models.EventMessageFailed, Data: models.MessageFailedPayload{
		ClientMessageID: clientMessageID,
		Code:            services.ErrorCode(err),
		Error:           err.Error(),
	}})
}
