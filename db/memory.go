package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
)

// In-memory stores back STORE_DRIVER=memory and the test suites. They honor
// the same guards as the PostgreSQL stores.

type MemoryConversationStore struct {
	mu       sync.Mutex
	now      func() time.Time
	byPair   map[string]*models.Conversation
	byID     map[uuid.UUID]*models.Conversation
	messages map[uuid.UUID][]models.Message
}

func NewMemoryConversationStore(now func() time.Time) *MemoryConversationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryConversationStore{
		now:      now,
		byPair:   make(map[string]*models.Conversation),
		byID:     make(map[uuid.UUID]*models.Conversation),
		messages: make(map[uuid.UUID][]models.Message),
	}
}

func (s *MemoryConversationStore) FindOrCreate(ctx context.Context, a, b string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findOrCreateLocked(a, b)
	out := *conv
	return &out, nil
}

func (s *MemoryConversationStore) findOrCreateLocked(a, b string) *models.Conversation {
	key := models.PairKey(a, b)
	if conv, ok := s.byPair[key]; ok {
		return conv
	}
	if a > b {
		a, b = b, a
	}
	now := s.now()
	conv := &models.Conversation{
		ID:           uuid.New(),
		ParticipantA: a,
		ParticipantB: b,
		PairKey:      key,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byPair[key] = conv
	s.byID[conv.ID] = conv
	return conv
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, receiverID string, msg *models.Message) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findOrCreateLocked(msg.SenderID, receiverID)
	log := s.messages[conv.ID]

	msg.ID = uuid.New()
	msg.ConversationID = conv.ID
	msg.Seq = int64(len(log)) + 1
	msg.Timestamp = nextTimestamp(s.now(), conv.LastMessageTime)
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	s.messages[conv.ID] = append(log, *msg)

	applyTail(conv, msg)
	out := *conv
	return &out, nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, services.ErrNotFound)
	}
	out := *conv
	return &out, nil
}

func (s *MemoryConversationStore) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Conversation
	for _, conv := range s.byID {
		if conv.IsActive && conv.HasParticipant(userID) {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lastActivity(&out[i]).After(lastActivity(&out[j]))
	})
	return out, nil
}

func (s *MemoryConversationStore) Messages(ctx context.Context, id uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, services.ErrNotFound)
	}
	log := s.messages[id]
	end := len(log)
	if beforeSeq > 0 && int(beforeSeq-1) < end {
		end = int(beforeSeq - 1)
	}
	start := 0
	if limit > 0 && end-limit > start {
		start = end - limit
	}
	out := make([]models.Message, end-start)
	copy(out, log[start:end])
	return out, nil
}

func (s *MemoryConversationStore) MarkRead(ctx context.Context, id uuid.UUID, reader string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return 0, fmt.Errorf("conversation %s: %w", id, services.ErrNotFound)
	}
	var n int64
	log := s.messages[id]
	for i := range log {
		if log[i].SenderID != reader && !log[i].IsRead {
			log[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryConversationStore) SoftDelete(ctx context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, services.ErrNotFound)
	}
	conv.IsActive = false
	conv.DeletedBy = userID
	conv.UpdatedAt = s.now()
	return nil
}

type MemoryCallStore struct {
	mu    sync.Mutex
	now   func() time.Time
	calls map[uuid.UUID]models.Call
}

func NewMemoryCallStore(now func() time.Time) *MemoryCallStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCallStore{now: now, calls: make(map[uuid.UUID]models.Call)}
}

func (s *MemoryCallStore) Create(ctx context.Context, call *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call.PairKey = models.PairKey(call.CallerID, call.ReceiverID)
	for _, existing := range s.calls {
		if existing.PairKey == call.PairKey && !existing.Status.Terminal() {
			return fmt.Errorf("call %s: %w", existing.ID, services.ErrCallAlreadyActive)
		}
	}
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	now := s.now()
	call.CreatedAt = now
	call.UpdatedAt = now
	s.calls[call.ID] = *call
	return nil
}

func (s *MemoryCallStore) Get(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", id, services.ErrNotFound)
	}
	return &call, nil
}

func (s *MemoryCallStore) FindActive(ctx context.Context, a, b string) (*models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(a, b)
	for _, call := range s.calls {
		if call.PairKey == key && !call.Status.Terminal() {
			return &call, nil
		}
	}
	return nil, fmt.Errorf("active call for %s: %w", key, services.ErrNotFound)
}

func (s *MemoryCallStore) UpdateStatus(ctx context.Context, call *models.Call, expected models.CallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.calls[call.ID]
	if !ok {
		return fmt.Errorf("call %s: %w", call.ID, services.ErrNotFound)
	}
	if stored.Status != expected {
		return fmt.Errorf("call %s is %s, expected %s: %w", call.ID, stored.Status, expected, services.ErrStaleState)
	}
	s.calls[call.ID] = *call
	return nil
}

func (s *MemoryCallStore) History(ctx context.Context, userID string, limit int) ([]models.Call, error) {
	return s.filter(userID, limit, func(models.Call) bool { return true }), nil
}

func (s *MemoryCallStore) ActiveForUser(ctx context.Context, userID string) ([]models.Call, error) {
	return s.filter(userID, 0, func(c models.Call) bool { return !c.Status.Terminal() }), nil
}

func (s *MemoryCallStore) filter(userID string, limit int, keep func(models.Call) bool) []models.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Call
	for _, call := range s.calls {
		if call.IsParticipant(userID) && keep(call) {
			out = append(out, call)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.After(out[j].InitiatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type MemoryNotificationStore struct {
	mu            sync.Mutex
	now           func() time.Time
	notifications map[uuid.UUID]models.Notification
}

func NewMemoryNotificationStore(now func() time.Time) *MemoryNotificationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryNotificationStore{now: now, notifications: make(map[uuid.UUID]models.Notification)}
}

func (s *MemoryNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifications[n.ID] = *n
	return nil
}

func (s *MemoryNotificationStore) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != userID || n.Expired(now) || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryNotificationStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	list, err := s.List(ctx, userID, true, 0)
	return int64(len(list)), err
}

func (s *MemoryNotificationStore) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	return s.update(id, userID, func(n *models.Notification) {
		n.IsRead = true
		n.IsSeen = true
	})
}

func (s *MemoryNotificationStore) MarkSeen(ctx context.Context, id uuid.UUID, userID string) error {
	return s.update(id, userID, func(n *models.Notification) { n.IsSeen = true })
}

func (s *MemoryNotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var count int64
	for id, n := range s.notifications {
		if n.RecipientID == userID && !n.IsRead && !n.Expired(now) {
			n.IsRead = true
			n.IsSeen = true
			s.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (s *MemoryNotificationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, n := range s.notifications {
		if n.Expired(now) {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryNotificationStore) update(id uuid.UUID, userID string, fn func(*models.Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.RecipientID != userID || n.Expired(s.now()) {
		return fmt.Errorf("notification %s: %w", id, services.ErrNotFound)
	}
	fn(&n)
	s.notifications[id] = n
	return nil
}

// nextTimestamp keeps message timestamps strictly increasing within a
// conversation even if the wall clock steps backwards.
func nextTimestamp(now time.Time, last *time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if last != nil && !now.After(*last) {
		return last.Add(time.Microsecond)
	}
	return now
}

func applyTail(conv *models.Conversation, msg *models.Message) {
	ts := msg.Timestamp
	conv.LastMessage = msg.Content
	conv.LastMessageType = msg.Type
	conv.LastSenderID = msg.SenderID
	conv.LastMessageTime = &ts
	conv.MessageCount = msg.Seq
	conv.IsActive = true
	conv.DeletedBy = ""
	conv.UpdatedAt = ts
}

func lastActivity(conv *models.Conversation) time.Time {
	if conv.LastMessageTime != nil {
		return *conv.LastMessageTime
	}
	return conv.CreatedAt
}
