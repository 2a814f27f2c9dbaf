package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tutorhub/signaling/models"
	"tutorhub/signaling/utils"
)

const notificationPreviewLen = 100

// Coordinator validates client intents, applies them to the stores and turns
// the committed result into effects for the Dispatcher. Websocket and REST
// entry points both call into it.
type Coordinator struct {
	presence      Presence
	conversations ConversationStore
	calls         CallStore
	dispatcher    *Dispatcher
	dedup         DedupGuard
	mirror        PresenceMirror
	logger        *utils.Logger
	now           func() time.Time

	allowAnonymousJoin bool
}

// CoordinatorOption configures optional Coordinator collaborators.
type CoordinatorOption func(*Coordinator)

// WithClock replaces time.Now for call timestamps and message ordering.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithDedupGuard drops relayed messages whose client id was already seen.
func WithDedupGuard(g DedupGuard) CoordinatorOption {
	return func(c *Coordinator) { c.dedup = g }
}

// WithPresenceMirror mirrors registry changes into shared presence storage.
func WithPresenceMirror(m PresenceMirror) CoordinatorOption {
	return func(c *Coordinator) { c.mirror = m }
}

// WithAnonymousJoin lets connections without a valid credential join as any
// user. Development only.
func WithAnonymousJoin(allow bool) CoordinatorOption {
	return func(c *Coordinator) { c.allowAnonymousJoin = allow }
}

// NewCoordinator wires the registry, stores and dispatcher. The dispatcher
// adopts the coordinator clock.
func NewCoordinator(presence Presence, conversations ConversationStore, calls CallStore, dispatcher *Dispatcher, logger *utils.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		presence:      presence,
		conversations: conversations,
		calls:         calls,
		dispatcher:    dispatcher,
		logger:        logger.With("component", "coordinator"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	dispatcher.now = c.now
	return c
}

// Join binds conn to a user room. Authenticated connections may only join as
// themselves; anonymous ones need WithAnonymousJoin and an explicit user id.
func (c *Coordinator) Join(ctx context.Context, conn Conn, identity Identity, requestedUserID string) (string, error) {
	requestedUserID = strings.TrimSpace(requestedUserID)

	userID := identity.UserID
	switch {
	case identity.Anonymous && !c.allowAnonymousJoin:
		return "", fmt.Errorf("anonymous connection cannot join: %w", ErrUnauthorized)
	case identity.Anonymous:
		if requestedUserID == "" {
			return "", fmt.Errorf("join requires a user id: %w", ErrInvalidMessage)
		}
		userID = requestedUserID
	case requestedUserID != "" && requestedUserID != identity.UserID:
		return "", fmt.Errorf("%s cannot join as %s: %w", identity.UserID, requestedUserID, ErrUnauthorized)
	}
	if userID == SystemActor {
		return "", fmt.Errorf("%q is reserved: %w", SystemActor, ErrUnauthorized)
	}

	// Re-joining under another id releases the old room first.
	if prior, ok := c.presence.UserOf(conn); ok && prior != userID {
		c.Leave(ctx, conn)
	}

	previous, snapshot := c.presence.Register(userID, conn)
	if previous != nil {
		c.logger.Info("Connection superseded", "user_id", userID, "previous_conn_id", previous.ID(), "conn_id", conn.ID())
	}
	c.mirrorOnline(ctx, userID, conn.ID())

	var effects Effects
	effects.send(conn, models.EventJoined, models.JoinedPayload{UserID: userID, Anonymous: identity.Anonymous})
	effects.broadcast(models.EventActiveUsersUpdate, activeUsers(snapshot))
	c.dispatcher.Dispatch(ctx, effects)
	return userID, nil
}

// Leave drops conn's presence entry, if it still holds one.
func (c *Coordinator) Leave(ctx context.Context, conn Conn) {
	userID, snapshot, removed := c.presence.Unregister(conn)
	if !removed {
		return
	}
	if c.mirror != nil {
		if err := c.mirror.MarkOffline(ctx, userID); err != nil {
			c.logger.Warn("Failed to mirror presence", "user_id", userID, "error", err)
		}
	}

	var effects Effects
	effects.broadcast(models.EventActiveUsersUpdate, activeUsers(snapshot))
	c.dispatcher.Dispatch(ctx, effects)
}

// Heartbeat refreshes the shared presence record of the user conn represents.
// A superseded or departed connection refreshes nothing.
func (c *Coordinator) Heartbeat(ctx context.Context, conn Conn) {
	if c.mirror == nil {
		return
	}
	userID, ok := c.presence.UserOf(conn)
	if !ok {
		return
	}
	if err := c.mirror.Touch(ctx, userID); err != nil {
		c.logger.Warn("Failed to refresh presence", "user_id", userID, "error", err)
	}
}

func (c *Coordinator) Online() PresenceSnapshot {
	return c.presence.Online()
}

func (c *Coordinator) IsOnline(userID string) bool {
	_, ok := c.presence.Lookup(userID)
	return ok
}

type RelayRequest struct {
	SenderID        string
	ReceiverID      string
	Content         string
	Type            models.MessageType
	ClientMessageID string
}

type RelayResult struct {
	Message      *models.Message
	Conversation *models.Conversation
	Delivered    bool
	Duplicate    bool
}

// Relay persists a message and then delivers it. Nothing is pushed to the
// receiver unless the append succeeded; every failure is reported to the
// sender as messageFailed carrying the client message id.
func (c *Coordinator) Relay(ctx context.Context, req RelayRequest) (*RelayResult, error) {
	result, err := c.relay(ctx, req)
	if err != nil {
		var effects Effects
		effects.emit(req.SenderID, models.EventMessageFailed, models.MessageFailedPayload{
			ClientMessageID: req.ClientMessageID,
			Code:            ErrorCode(err),
			Error:           err.Error(),
		})
		c.dispatcher.Dispatch(ctx, effects)
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) relay(ctx context.Context, req RelayRequest) (*RelayResult, error) {
	if err := validateRelay(&req); err != nil {
		return nil, err
	}

	if c.dedup != nil && req.ClientMessageID != "" {
		claimed, err := c.dedup.Claim(ctx, req.SenderID, req.ClientMessageID)
		switch {
		case err != nil:
			c.logger.Warn("Dedup guard unavailable, relaying without it", "sender_id", req.SenderID, "error", err)
		case !claimed:
			return c.duplicateRelay(ctx, req), nil
		}
	}

	msg := &models.Message{
		SenderID:        req.SenderID,
		Content:         req.Content,
		Type:            req.Type,
		ClientMessageID: req.ClientMessageID,
	}
	conv, err := c.conversations.AppendMessage(ctx, req.ReceiverID, msg)
	if err != nil {
		if c.dedup != nil && req.ClientMessageID != "" {
			if rerr := c.dedup.Release(ctx, req.SenderID, req.ClientMessageID); rerr != nil {
				c.logger.Warn("Failed to release client message id", "sender_id", req.SenderID, "error", rerr)
			}
		}
		c.logger.Error("Failed to persist message", "sender_id", req.SenderID, "receiver_id", req.ReceiverID, "error", err)
		return nil, persistenceError("append message", err)
	}

	_, delivered := c.presence.Lookup(req.ReceiverID)

	var effects Effects
	if delivered {
		effects.emit(req.ReceiverID, models.EventReceiveMessage, models.ReceiveMessagePayload{
			ConversationID:  conv.ID,
			Message:         *msg,
			ClientMessageID: req.ClientMessageID,
		})
	}
	effects.emit(req.SenderID, models.EventMessageConfirmed, models.MessageConfirmedPayload{
		ClientMessageID: req.ClientMessageID,
		MessageID:       msg.ID,
		ConversationID:  conv.ID,
		Delivered:       delivered,
		Timestamp:       msg.Timestamp,
	})
	effects.notify(&models.Notification{
		RecipientID: req.ReceiverID,
		SenderID:    req.SenderID,
		Type:        models.NotificationNewMessage,
		Title:       "New message",
		Message:     preview(msg),
		Data: models.JSONB{
			"conversationId": conv.ID.String(),
			"messageId":      msg.ID.String(),
			"senderId":       req.SenderID,
		},
	})
	summary := conv.Summary()
	effects.emit(req.SenderID, models.EventConversationUpdated, summary)
	effects.emit(req.ReceiverID, models.EventConversationUpdated, summary)
	c.dispatcher.Dispatch(ctx, effects)

	return &RelayResult{Message: msg, Conversation: conv, Delivered: delivered}, nil
}

func (c *Coordinator) duplicateRelay(ctx context.Context, req RelayRequest) *RelayResult {
	_, delivered := c.presence.Lookup(req.ReceiverID)
	c.logger.Debug("Duplicate relay ignored", "sender_id", req.SenderID, "client_message_id", req.ClientMessageID)

	var effects Effects
	effects.emit(req.SenderID, models.EventMessageConfirmed, models.MessageConfirmedPayload{
		ClientMessageID: req.ClientMessageID,
		Delivered:       delivered,
		Duplicate:       true,
		Timestamp:       c.now(),
	})
	c.dispatcher.Dispatch(ctx, effects)
	return &RelayResult{Delivered: delivered, Duplicate: true}
}

func validateRelay(req *RelayRequest) error {
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.SenderID == "" || req.ReceiverID == "" {
		return fmt.Errorf("sender and receiver are required: %w", ErrInvalidMessage)
	}
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("content is required: %w", ErrInvalidMessage)
	}
	if req.Type == "" {
		req.Type = models.MessageTypeText
	}
	if !req.Type.Valid() {
		return fmt.Errorf("unknown message type %q: %w", req.Type, ErrInvalidMessage)
	}
	if req.SenderID == req.ReceiverID {
		return ErrSelfTarget
	}
	return nil
}

// MarkConversationRead flags the peer's messages as read by reader and pushes
// the refreshed summary to both participants.
func (c *Coordinator) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, reader string) (int64, error) {
	conv, err := c.conversations.Get(ctx, conversationID)
	if err != nil {
		return 0, persistenceError("get conversation", err)
	}
	if !conv.HasParticipant(reader) {
		return 0, fmt.Errorf("%s is not part of conversation %s: %w", reader, conversationID, ErrUnauthorized)
	}

	marked, err := c.conversations.MarkRead(ctx, conversationID, reader)
	if err != nil {
		return 0, persistenceError("mark read", err)
	}

	var effects Effects
	summary := conv.Summary()
	effects.emit(conv.ParticipantA, models.EventConversationUpdated, summary)
	effects.emit(conv.ParticipantB, models.EventConversationUpdated, summary)
	c.dispatcher.Dispatch(ctx, effects)
	return marked, nil
}

type CallRequest struct {
	CallerID   string
	ReceiverID string
	Type       models.CallType
	SessionID  string
}

// InitiateCall creates a call record and rings the receiver when they are
// online. A pair can only have one call in flight.
func (c *Coordinator) InitiateCall(ctx context.Context, req CallRequest) (*models.Call, error) {
	req.CallerID = strings.TrimSpace(req.CallerID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.CallerID == "" || req.ReceiverID == "" {
		return nil, fmt.Errorf("caller and receiver are required: %w", ErrInvalidMessage)
	}
	if req.CallerID == req.ReceiverID {
		return nil, ErrSelfTarget
	}
	if req.Type == "" {
		req.Type = models.CallTypeVideo
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown call type %q: %w", req.Type, ErrInvalidMessage)
	}

	active, err := c.calls.FindActive(ctx, req.CallerID, req.ReceiverID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("call %s is %s: %w", active.ID, active.Status, ErrCallAlreadyActive)
	case !errors.Is(err, ErrNotFound):
		return nil, persistenceError("find active call", err)
	}

	now := c.now()
	call := &models.Call{
		ID:          uuid.New(),
		CallerID:    req.CallerID,
		ReceiverID:  req.ReceiverID,
		Type:        req.Type,
		Status:      models.CallStatusInitiated,
		SessionID:   req.SessionID,
		InitiatedAt: now,
	}
	// The store re-checks the pair, so a racing initiate still fails here.
	if err := c.calls.Create(ctx, call); err != nil {
		return nil, persistenceError("create call", err)
	}

	_, online := c.presence.Lookup(req.ReceiverID)
	ringing := false
	if online {
		res, err := Transition(*call, SystemEvent(CallEventRing, c.now(), ""))
		if err == nil {
			err = c.calls.UpdateStatus(ctx, &res.Call, res.From)
		}
		if err != nil {
			c.logger.Warn("Failed to move call to ringing", "call_id", call.ID, "error", err)
		} else {
			*call = res.Call
			ringing = true
		}
	}

	c.logger.Info("Call initiated", "call_id", call.ID, "caller_id", call.CallerID, "receiver_id", call.ReceiverID, "status", call.Status)

	var effects Effects
	payload := callPayload(call, models.CallStatusInitiated, req.CallerID, "")
	effects.emit(req.CallerID, models.EventVideoCallInitiated, payload)
	effects.notify(&models.Notification{
		RecipientID: req.ReceiverID,
		SenderID:    req.CallerID,
		Type:        models.NotificationCallIncoming,
		Title:       "Incoming " + string(call.Type) + " call",
		Message:     req.CallerID + " is calling you",
		Data:        callData(call),
	})
	if online {
		effects.emit(req.ReceiverID, models.EventIncomingVideoCall, payload)
	}
	if ringing {
		effects.emit(req.CallerID, models.EventVideoCallRinging, callPayload(call, models.CallStatusInitiated, SystemActor, ""))
	}
	c.dispatcher.Dispatch(ctx, effects)
	return call, nil
}

// AnswerCall moves a ringing call to answered. Only the receiver may answer.
func (c *Coordinator) AnswerCall(ctx context.Context, callID uuid.UUID, actorID string) (*models.Call, error) {
	return c.applyTransition(ctx, callID, CallEvent{Kind: CallEventAnswer, Actor: actorID})
}

// RejectCall declines a pending call on behalf of the receiver.
func (c *Coordinator) RejectCall(ctx context.Context, callID uuid.UUID, actorID, reason string) (*models.Call, error) {
	return c.applyTransition(ctx, callID, CallEvent{Kind: CallEventReject, Actor: actorID, Reason: reason})
}

// EndCall hangs up an answered call. Either participant may end it.
func (c *Coordinator) EndCall(ctx context.Context, callID uuid.UUID, actorID, reason string) (*models.Call, error) {
	return c.applyTransition(ctx, callID, CallEvent{Kind: CallEventEnd, Actor: actorID, Reason: reason})
}

// MissCall is sent by the caller when a pending call went unanswered.
func (c *Coordinator) MissCall(ctx context.Context, callID uuid.UUID, actorID string) (*models.Call, error) {
	return c.applyTransition(ctx, callID, CallEvent{Kind: CallEventMiss, Actor: actorID})
}

// FailCall marks a live call failed, typically after a media error reported
// by either participant.
func (c *Coordinator) FailCall(ctx context.Context, callID uuid.UUID, actorID, reason string) (*models.Call, error) {
	return c.applyTransition(ctx, callID, CallEvent{Kind: CallEventFail, Actor: actorID, Reason: reason})
}

// applyTransition is the single path every call state change goes through:
// load, decide, compare-and-swap, then push.
func (c *Coordinator) applyTransition(ctx context.Context, callID uuid.UUID, ev CallEvent) (*models.Call, error) {
	call, err := c.calls.Get(ctx, callID)
	if err != nil {
		return nil, persistenceError("get call", err)
	}

	ev.At = c.now()
	res, err := Transition(*call, ev)
	if err != nil {
		return nil, err
	}

	if err := c.calls.UpdateStatus(ctx, &res.Call, res.From); err != nil {
		return nil, persistenceError("update call", err)
	}
	updated := res.Call

	c.logger.Info("Call transitioned", "call_id", callID, "from", res.From, "to", res.To, "actor_id", ev.Actor)

	var effects Effects
	payload := callPayload(&updated, res.From, ev.Actor, ev.Reason)
	for _, userID := range []string{updated.CallerID, updated.ReceiverID} {
		effects.emit(userID, res.EventName, payload)
	}
	if res.NotificationType != "" {
		for _, recipient := range res.Notify {
			effects.notify(&models.Notification{
				RecipientID: recipient,
				SenderID:    senderFor(ev),
				Type:        res.NotificationType,
				Title:       callNotificationTitles[res.NotificationType],
				Message:     callNotificationMessage(&updated, ev.Actor, res.To),
				Data:        callData(&updated),
			})
		}
	}
	c.dispatcher.Dispatch(ctx, effects)
	return &updated, nil
}

// ForwardSignal relays an opaque SDP offer/answer or ICE candidate to the
// other participant of a live call.
func (c *Coordinator) ForwardSignal(ctx context.Context, callID uuid.UUID, fromID string, signal json.RawMessage) error {
	if len(signal) == 0 {
		return fmt.Errorf("empty signal: %w", ErrInvalidMessage)
	}

	call, err := c.calls.Get(ctx, callID)
	if err != nil {
		return persistenceError("get call", err)
	}
	if call.Status.Terminal() {
		return fmt.Errorf("call %s is %s: %w", callID, call.Status, ErrAlreadyTerminal)
	}
	if !call.IsParticipant(fromID) {
		return fmt.Errorf("%s is not part of call %s: %w", fromID, callID, ErrUnauthorized)
	}

	var effects Effects
	effects.emit(call.Peer(fromID), models.EventWebRTCSignal, models.WebRTCSignalPayload{
		CallID: callID,
		FromID: fromID,
		Signal: signal,
	})
	c.dispatcher.Dispatch(ctx, effects)
	return nil
}

func (c *Coordinator) mirrorOnline(ctx context.Context, userID, connID string) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.MarkOnline(ctx, userID, connID); err != nil {
		c.logger.Warn("Failed to mirror presence", "user_id", userID, "error", err)
	}
}

func activeUsers(s PresenceSnapshot) models.ActiveUsersPayload {
	return models.ActiveUsersPayload{Users: s.Users, Version: s.Version}
}

func callPayload(call *models.Call, from models.CallStatus, actorID, reason string) models.CallEventPayload {
	return models.CallEventPayload{
		CallID:     call.ID,
		CallerID:   call.CallerID,
		ReceiverID: call.ReceiverID,
		Type:       call.Type,
		Status:     call.Status,
		From:       from,
		ActorID:    actorID,
		SessionID:  call.SessionID,
		Reason:     reason,
		Duration:   call.Duration,
	}
}

func callData(call *models.Call) models.JSONB {
	return models.JSONB{
		"callId":   call.ID.String(),
		"callType": string(call.Type),
		"status":   string(call.Status),
		"duration": call.Duration,
	}
}

var callNotificationTitles = map[models.NotificationType]string{
	models.NotificationCallAnswered: "Call answered",
	models.NotificationCallRejected: "Call declined",
	models.NotificationCallMissed:   "Missed call",
	models.NotificationCallEnded:    "Call ended",
	models.NotificationCallFailed:   "Call failed",
}

func callNotificationMessage(call *models.Call, actorID string, to models.CallStatus) string {
	switch to {
	case models.CallStatusAnswered:
		return actorID + " answered your call"
	case models.CallStatusRejected:
		return actorID + " declined your call"
	case models.CallStatusMissed:
		return "You missed a call from " + call.CallerID
	case models.CallStatusEnded:
		return fmt.Sprintf("Call ended after %ds", call.Duration)
	}
	return "The call could not be completed"
}

func senderFor(ev CallEvent) string {
	if ev.System {
		return ""
	}
	return ev.Actor
}

func preview(msg *models.Message) string {
	if msg.Type != models.MessageTypeText {
		return "Sent a " + string(msg.Type)
	}
	if utf8.RuneCountInString(msg.Content) <= notificationPreviewLen {
		return msg.Content
	}
	runes := []rune(msg.Content)
	return string(runes[:notificationPreviewLen]) + "..."
}
