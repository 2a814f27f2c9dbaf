package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
)

// ConversationStore is the PostgreSQL conversation store. Appends lock the
// conversation row so concurrent relays on the same pair are serialized.
type ConversationStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db, now: time.Now}
}

func (s *ConversationStore) FindOrCreate(ctx context.Context, a, b string) (*models.Conversation, error) {
	return findOrCreateConversation(s.db.WithContext(ctx), a, b, s.now())
}

func findOrCreateConversation(tx *gorm.DB, a, b string, now time.Time) (*models.Conversation, error) {
	key := models.PairKey(a, b)
	if a > b {
		a, b = b, a
	}

	conv := models.Conversation{
		ID:           uuid.New(),
		ParticipantA: a,
		ParticipantB: b,
		PairKey:      key,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(&conv).Error
	if err != nil {
		return nil, fmt.Errorf("create conversation %s: %w", key, err)
	}

	var found models.Conversation
	if err := tx.Where("pair_key = ?", key).First(&found).Error; err != nil {
		return nil, translate("conversation "+key, err)
	}
	return &found, nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, receiverID string, msg *models.Message) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findOrCreateConversation(tx, msg.SenderID, receiverID, s.now())
		if err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", found.ID).First(&conv).Error; err != nil {
			return translate("lock conversation", err)
		}

		msg.ID = uuid.New()
		msg.ConversationID = conv.ID
		msg.Seq = conv.MessageCount + 1
		msg.Timestamp = nextTimestamp(s.now(), conv.LastMessageTime)
		if msg.Type == "" {
			msg.Type = models.MessageTypeText
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		applyTail(&conv, msg)
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
			"last_message":      conv.LastMessage,
			"last_message_type": conv.LastMessageType,
			"last_sender_id":    conv.LastSenderID,
			"last_message_time": conv.LastMessageTime,
			"message_count":     conv.MessageCount,
			"is_active":         true,
			"deleted_by":        "",
			"updated_at":        conv.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, translate("conversation "+id.String(), err)
	}
	return &conv, nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND (participant_a = ? OR participant_b = ?)", true, userID, userID).
		Order("COALESCE(last_message_time, created_at) DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

func (s *ConversationStore) Messages(ctx context.Context, id uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("conversation_id = ?", id)
	if beforeSeq > 0 {
		query = query.Where("seq < ?", beforeSeq)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var msgs []models.Message
	if err := query.Order("seq DESC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *ConversationStore) MarkRead(ctx context.Context, id uuid.UUID, reader string) (int64, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", id, reader, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *ConversationStore) SoftDelete(ctx context.Context, id uuid.UUID, userID string) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  false,
		"deleted_by": userID,
		"updated_at": s.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("delete conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, services.ErrNotFound)
	}
	return nil
}

// CallStore is the PostgreSQL call record store. The partial unique index
// created by Migrate enforces one live call per pair.
type CallStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCallStore(db *gorm.DB) *CallStore {
	return &CallStore{db: db, now: time.Now}
}

func (s *CallStore) Create(ctx context.Context, call *models.Call) error {
	call.PairKey = models.PairKey(call.CallerID, call.ReceiverID)
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	return createCallError(call.PairKey, s.db.WithContext(ctx).Create(call).Error)
}

// createCallError maps the partial unique index on active pairs onto
// ErrCallAlreadyActive. It relies on TranslateError being enabled.
func createCallError(pairKey string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("call between %s: %w", pairKey, services.ErrCallAlreadyActive)
	}
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	return nil
}

func (s *CallStore) Get(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	var call models.Call
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&call).Error; err != nil {
		return nil, translate("call "+id.String(), err)
	}
	return &call, nil
}

func (s *CallStore) FindActive(ctx context.Context, a, b string) (*models.Call, error) {
	var call models.Call
	err := s.db.WithContext(ctx).
		Where("pair_key = ? AND status IN ?", models.PairKey(a, b), models.ActiveCallStatuses).
		First(&call).Error
	if err != nil {
		return nil, translate("active call", err)
	}
	return &call, nil
}

// UpdateStatus writes the transitioned call only if the stored status still
// equals expected.
func (s *CallStore) UpdateStatus(ctx context.Context, call *models.Call, expected models.CallStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status = ?", call.ID, expected).
		Updates(map[string]interface{}{
			"status":      call.Status,
			"answered_at": call.AnsweredAt,
			"ended_at":    call.EndedAt,
			"duration":    call.Duration,
			"end_reason":  call.EndReason,
			"updated_at":  s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update call %s: %w", call.ID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	current, err := s.Get(ctx, call.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("call %s is %s, expected %s: %w", call.ID, current.Status, expected, services.ErrStaleState)
}

func (s *CallStore) History(ctx context.Context, userID string, limit int) ([]models.Call, error) {
	query := s.db.WithContext(ctx).
		Where("caller_id = ? OR receiver_id = ?", userID, userID).
		Order("initiated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var calls []models.Call
	if err := query.Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("call history: %w", err)
	}
	return calls, nil
}

func (s *CallStore) ActiveForUser(ctx context.Context, userID string) ([]models.Call, error) {
	var calls []models.Call
	err := s.db.WithContext(ctx).
		Where("(caller_id = ? OR receiver_id = ?) AND status IN ?", userID, userID, models.ActiveCallStatuses).
		Order("initiated_at DESC").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("active calls: %w", err)
	}
	return calls, nil
}

type NotificationStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db, now: time.Now}
}

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) visible(ctx context.Context, userID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, s.now())
}

func (s *NotificationStore) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := s.visible(ctx, userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []models.Notification
	if err := query.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.visible(ctx, userID).Where("is_read = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	return s.update(ctx, id, userID, map[string]interface{}{"is_read": true, "is_seen": true})
}

func (s *NotificationStore) MarkSeen(ctx context.Context, id uuid.UUID, userID string) error {
	return s.update(ctx, id, userID, map[string]interface{}{"is_seen": true})
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.visible(ctx, userID).Where("is_read = ?", false).
		Updates(map[string]interface{}{"is_read": true, "is_seen": true})
	if res.Error != nil {
		return 0, fmt.Errorf("mark all read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *NotificationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *NotificationStore) update(ctx context.Context, id uuid.UUID, userID string, fields map[string]interface{}) error {
	res := s.visible(ctx, userID).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, services.ErrNotFound)
	}
	return nil
}

func translate(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, services.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

var (
	_ services.ConversationStore = (*ConversationStore)(nil)
	_ services.CallStore         = (*CallStore)(nil)
	_ services.NotificationStore = (*NotificationStore)(nil)

	_ services.ConversationStore = (*MemoryConversationStore)(nil)
	_ services.CallStore         = (*MemoryCallStore)(nil)
	_ services.NotificationStore = (*MemoryNotificationStore)(nil)
)
