package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tutorhub/signaling/models"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// PresenceMirror publishes local presence changes to shared storage so other
// services can see who is online. The local Registry stays authoritative.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, userID, connID string) error
	Touch(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

// RedisPresenceMirror stores presence:<user> records with a TTL plus the
// online_users set. Heartbeats keep the record alive.
type RedisPresenceMirror struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func NewRedisPresenceMirror(client *redis.Client, ttl time.Duration) *RedisPresenceMirror {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &RedisPresenceMirror{redis: client, ttl: ttl, now: time.Now}
}

func (m *RedisPresenceMirror) MarkOnline(ctx context.Context, userID, connID string) error {
	record := models.PresenceRecord{
		UserID:       userID,
		Status:       "online",
		LastSeen:     m.now(),
		ConnectionID: connID,
	}
	return m.write(ctx, record)
}

// Touch refreshes the record of a user that is still marked online. A missing
// record is left missing: only MarkOnline creates one.
func (m *RedisPresenceMirror) Touch(ctx context.Context, userID string) error {
	key := presenceKeyPrefix + userID
	data, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get presence: %w", err)
	}

	var record models.PresenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return fmt.Errorf("failed to unmarshal presence data: %w", err)
	}
	record.Status = "online"
	record.LastSeen = m.now()
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}

	// XX: a MarkOffline that lands between the read and the write wins.
	pipe := m.redis.Pipeline()
	pipe.SetArgs(ctx, key, encoded, redis.SetArgs{Mode: "XX", TTL: m.ttl})
	pipe.Expire(ctx, onlineSetKey, m.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

func (m *RedisPresenceMirror) MarkOffline(ctx context.Context, userID string) error {
	pipe := m.redis.Pipeline()
	pipe.Del(ctx, presenceKeyPrefix+userID)
	pipe.SRem(ctx, onlineSetKey, userID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// Status returns the mirrored record for userID. A missing or expired record
// reads as offline.
func (m *RedisPresenceMirror) Status(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	data, err := m.redis.Get(ctx, presenceKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return &models.PresenceRecord{UserID: userID, Status: "offline"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var record models.PresenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence data: %w", err)
	}
	if m.now().Sub(record.LastSeen) > m.ttl {
		record.Status = "offline"
	}
	return &record, nil
}

func (m *RedisPresenceMirror) write(ctx context.Context, record models.PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}

	pipe := m.redis.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+record.UserID, data, m.ttl)
	pipe.SAdd(ctx, onlineSetKey, record.UserID)
	pipe.Expire(ctx, onlineSetKey, m.ttl*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

// NewRedisClient parses url and verifies the server answers PING.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
