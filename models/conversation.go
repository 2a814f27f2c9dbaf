package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB type for PostgreSQL JSONB fields
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// PairKey returns the canonical key for an unordered pair of users.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Conversation is the durable two-party thread between ParticipantA and
// ParticipantB (ordered so that ParticipantA < ParticipantB).
type Conversation struct {
	ID              uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	ParticipantA    string      `json:"participant_a" gorm:"not null;index"`
	ParticipantB    string      `json:"participant_b" gorm:"not null;index"`
	PairKey         string      `json:"pair_key" gorm:"not null;uniqueIndex"`
	LastMessage     string      `json:"last_message"`
	LastMessageType MessageType `json:"last_message_type"`
	LastSenderID    string      `json:"last_sender_id"`
	LastMessageTime *time.Time  `json:"last_message_time"`
	MessageCount    int64       `json:"message_count" gorm:"default:0"`
	IsActive        bool        `json:"is_active" gorm:"default:true"`
	DeletedBy       string      `json:"deleted_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "signaling.conversations"
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Message is one entry of a conversation. Only IsRead ever changes after insert.
type Message struct {
	ID              uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	ConversationID  uuid.UUID   `json:"conversation_id" gorm:"type:uuid;not null;uniqueIndex:idx_conversation_seq"`
	Seq             int64       `json:"seq" gorm:"not null;uniqueIndex:idx_conversation_seq"`
	SenderID        string      `json:"sender_id" gorm:"not null"`
	Content         string      `json:"content" gorm:"not null"`
	Type            MessageType `json:"type" gorm:"not null;default:text"`
	Timestamp       time.Time   `json:"timestamp" gorm:"not null"`
	IsRead          bool        `json:"is_read" gorm:"default:false"`
	ClientMessageID string      `json:"client_message_id,omitempty"`
}

func (Message) TableName() string {
	return "signaling.messages"
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// ConversationSummary is pushed to clients so conversation lists can refresh
// without a full re-fetch.
type ConversationSummary struct {
	ConversationID  uuid.UUID   `json:"conversationId"`
	Participants    []string    `json:"participants"`
	LastMessage     string      `json:"lastMessage"`
	LastMessageType MessageType `json:"lastMessageType"`
	LastSenderID    string      `json:"lastSenderId"`
	LastMessageTime *time.Time  `json:"lastMessageTime"`
	MessageCount    int64       `json:"messageCount"`
}

// Summary builds the client-facing summary of the conversation tail.
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ConversationID:  c.ID,
		Participants:    []string{c.ParticipantA, c.ParticipantB},
		LastMessage:     c.LastMessage,
		LastMessageType: c.LastMessageType,
		LastSenderID:    c.LastSenderID,
		LastMessageTime: c.LastMessageTime,
		MessageCount:    c.MessageCount,
	}
}
