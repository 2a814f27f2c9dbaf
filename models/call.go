package models

import (
	"time"

	"github.com/google/uuid"
)

// Call is the persisted record of one call attempt. Calls are never deleted.
type Call struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	CallerID    string     `json:"caller_id" gorm:"not null;index"`
	ReceiverID  string     `json:"receiver_id" gorm:"not null;index"`
	PairKey     string     `json:"pair_key" gorm:"not null;index"`
	Type        CallType   `json:"type" gorm:"not null;default:video"`
	Status      CallStatus `json:"status" gorm:"not null;default:initiated;index"`
	SessionID   string     `json:"session_id,omitempty"`
	InitiatedAt time.Time  `json:"initiated_at" gorm:"not null"`
	AnsweredAt  *time.Time `json:"answered_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Duration    int64      `json:"duration" gorm:"default:0"` // seconds
	EndReason   string     `json:"end_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Call) TableName() string {
	return "signaling.calls"
}

// IsParticipant reports whether userID is the caller or the receiver.
func (c *Call) IsParticipant(userID string) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// Peer returns the participant that is not userID.
func (c *Call) Peer(userID string) string {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}

type CallType string

const (
	CallTypeVideo CallType = "video"
	CallTypeVoice CallType = "voice"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallTypeVideo || t == CallTypeVoice
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusMissed    CallStatus = "missed"
	CallStatusEnded     CallStatus = "ended"
	CallStatusFailed    CallStatus = "failed"
)

// ActiveCallStatuses are the non-terminal statuses. At most one call per pair
// may be in one of them.
var ActiveCallStatuses = []CallStatus{CallStatusInitiated, CallStatusRinging, CallStatusAnswered}

// Terminal reports whether no further transition is permitted from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusRejected, CallStatusMissed, CallStatusEnded, CallStatusFailed:
		return true
	}
	return false
}

// Request/Response DTOs
type InitiateCallRequest struct {
	ReceiverID string   `json:"receiverId" binding:"required"`
	Type       CallType `json:"type"`
	SessionID  string   `json:"sessionId"`
}

type CallActionRequest struct {
	Reason string `json:"reason"`
}

type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// ICEServer is one STUN/TURN entry handed to WebRTC clients.
type ICEServer struct {
	URLs       []string `json:"urls" toml:"urls"`
	Username   string   `json:"username,omitempty" toml:"username"`
	Credential string   `json:"credential,omitempty" toml:"credential"`
}

type ICEServersResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
	Fallback   bool        `json:"fallback"`
}
