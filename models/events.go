package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Real-time event names. Each frame is a JSON text message {"event": ..., "data": {...}}.
const (
	// client -> server
	EventJoin              = "join"
	EventLeave             = "leave"
	EventSendMessage       = "sendMessage"
	EventMarkRead          = "markRead"
	EventInitiateVideoCall = "initiateVideoCall"
	EventWebRTCSignal      = "webrtcSignal"

	// server -> client
	EventJoined              = "joined"
	EventReceiveMessage      = "receiveMessage"
	EventMessageConfirmed    = "messageConfirmed"
	EventMessageFailed       = "messageFailed"
	EventConversationUpdated = "conversationUpdated"
	EventIncomingVideoCall   = "incomingVideoCall"
	EventVideoCallInitiated  = "videoCallInitiated"
	EventActiveUsersUpdate   = "activeUsersUpdate"
	EventNewNotification     = "newNotification"
	EventError               = "error"

	// both directions: a client sends them to request the transition, the
	// server pushes them once the transition is committed
	EventVideoCallAccepted = "videoCallAccepted"
	EventVideoCallRejected = "videoCallRejected"
	EventVideoCallEnded    = "videoCallEnded"
	EventVideoCallFailed   = "videoCallFailed"
	EventVideoCallMissed   = "videoCallMissed"
	EventVideoCallRinging  = "videoCallRinging"
)

// Event is an outbound frame.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// InboundEvent is a frame as read from a client; Data is decoded per Name.
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type JoinPayload struct {
	UserID string `json:"userId"`
}

type JoinedPayload struct {
	UserID    string `json:"userId"`
	Anonymous bool   `json:"anonymous"`
}

type SendMessagePayload struct {
	SenderID        string      `json:"senderId"`
	ReceiverID      string      `json:"receiverId"`
	Content         string      `json:"content"`
	Type            MessageType `json:"type"`
	ClientMessageID string      `json:"clientMessageId"`
}

type ReceiveMessagePayload struct {
	ConversationID  uuid.UUID `json:"conversationId"`
	Message         Message   `json:"message"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

type MessageConfirmedPayload struct {
	ClientMessageID string    `json:"clientMessageId"`
	MessageID       uuid.UUID `json:"messageId"`
	ConversationID  uuid.UUID `json:"conversationId"`
	Delivered       bool      `json:"delivered"`
	Duplicate       bool      `json:"duplicate,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type MessageFailedPayload struct {
	ClientMessageID string `json:"clientMessageId"`
	Code            string `json:"code"`
	Error           string `json:"error"`
}

type MarkReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type InitiateVideoCallPayload struct {
	ReceiverID string   `json:"receiverId"`
	Type       CallType `json:"type"`
	SessionID  string   `json:"sessionId"`
}

type CallActionPayload struct {
	CallID uuid.UUID `json:"callId"`
	Reason string    `json:"reason"`
}

// CallEventPayload describes a committed call transition.
type CallEventPayload struct {
	CallID     uuid.UUID  `json:"callId"`
	CallerID   string     `json:"callerId"`
	ReceiverID string     `json:"receiverId"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`
	From       CallStatus `json:"from,omitempty"`
	ActorID    string     `json:"actorId,omitempty"`
	SessionID  string     `json:"sessionId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Duration   int64      `json:"duration"`
}

type WebRTCSignalPayload struct {
	CallID uuid.UUID       `json:"callId"`
	FromID string          `json:"fromId,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

type ActiveUsersPayload struct {
	Users   []string `json:"users"`
	Version uint64   `json:"version"`
}

type ErrorPayload struct {
	Action string     `json:"action"`
	Code   string     `json:"code"`
	Error  string     `json:"error"`
	CallID *uuid.UUID `json:"callId,omitempty"`
}
