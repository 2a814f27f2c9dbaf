package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tutorhub/signaling/models"
)

// ConversationStore persists two-party threads. Implementations serialize
// appends per conversation and keep the lastMessage* fields equal to the tail.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, a, b string) (*models.Conversation, error)
	// AppendMessage finds or creates the conversation between msg.SenderID and
	// receiverID and appends msg, filling in its ID, ConversationID, Seq and
	// Timestamp.
	AppendMessage(ctx context.Context, receiverID string, msg *models.Message) (*models.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	// Messages returns up to limit messages in insertion order. A positive
	// beforeSeq pages backwards from that sequence number.
	Messages(ctx context.Context, id uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error)
	// MarkRead flags every message not sent by reader as read.
	MarkRead(ctx context.Context, id uuid.UUID, reader string) (int64, error)
	SoftDelete(ctx context.Context, id uuid.UUID, userID string) error
}

// CallStore persists call records. Create fails with ErrCallAlreadyActive when
// the pair already has a non-terminal call; UpdateStatus fails with
// ErrStaleState when the stored status is no longer expected.
type CallStore interface {
	Create(ctx context.Context, call *models.Call) error
	Get(ctx context.Context, id uuid.UUID) (*models.Call, error)
	FindActive(ctx context.Context, a, b string) (*models.Call, error)
	UpdateStatus(ctx context.Context, call *models.Call, expected models.CallStatus) error
	History(ctx context.Context, userID string, limit int) ([]models.Call, error)
	ActiveForUser(ctx context.Context, userID string) ([]models.Call, error)
}

// NotificationStore persists user-facing alerts. Expired rows are never returned.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id uuid.UUID, userID string) error
	MarkSeen(ctx context.Context, id uuid.UUID, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
