package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a user-facing alert written as a side effect of messaging
// and call events.
type Notification struct {
	ID          uuid.UUID        `json:"id" gorm:"type:uuid;primary_key"`
	RecipientID string           `json:"recipient_id" gorm:"not null;index:idx_notification_recipient"`
	SenderID    string           `json:"sender_id,omitempty"`
	Type        NotificationType `json:"type" gorm:"not null"`
	Title       string           `json:"title" gorm:"not null"`
	Message     string           `json:"message"`
	Data        JSONB            `json:"data" gorm:"type:jsonb;default:'{}'"`
	IsRead      bool             `json:"is_read" gorm:"default:false;index:idx_notification_recipient"`
	IsSeen      bool             `json:"is_seen" gorm:"default:false"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty" gorm:"index"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (Notification) TableName() string {
	return "signaling.notifications"
}

// Expired reports whether the notification is past its expiry at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

type NotificationType string

const (
	NotificationNewMessage   NotificationType = "new_message"
	NotificationCallIncoming NotificationType = "call_incoming"
	NotificationCallAnswered NotificationType = "call_answered"
	NotificationCallRejected NotificationType = "call_rejected"
	NotificationCallMissed   NotificationType = "call_missed"
	NotificationCallEnded    NotificationType = "call_ended"
	NotificationCallFailed   NotificationType = "call_failed"
)
