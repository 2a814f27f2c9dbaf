package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "relay:dedup:"

// DedupGuard gives relays that carry a client message id at-most-once
// persistence. Claim reports false when the id was already claimed.
type DedupGuard interface {
	Claim(ctx context.Context, senderID, clientMessageID string) (bool, error)
	Release(ctx context.Context, senderID, clientMessageID string) error
}

type RedisDedupGuard struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisDedupGuard(client *redis.Client, ttl time.Duration) *RedisDedupGuard {
	return &RedisDedupGuard{redis: client, ttl: ttl}
}

func (g *RedisDedupGuard) Claim(ctx context.Context, senderID, clientMessageID string) (bool, error) {
	ok, err := g.redis.SetNX(ctx, dedupKey(senderID, clientMessageID), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim client message id: %w", err)
	}
	return ok, nil
}

func (g *RedisDedupGuard) Release(ctx context.Context, senderID, clientMessageID string) error {
	if err := g.redis.Del(ctx, dedupKey(senderID, clientMessageID)).Err(); err != nil {
		return fmt.Errorf("failed to release client message id: %w", err)
	}
	return nil
}

// MemoryDedupGuard is the process-local guard used without Redis.
type MemoryDedupGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemoryDedupGuard(ttl time.Duration, now func() time.Time) *MemoryDedupGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryDedupGuard{ttl: ttl, now: now, claims: make(map[string]time.Time)}
}

func (g *MemoryDedupGuard) Claim(ctx context.Context, senderID, clientMessageID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, expires := range g.claims {
		if !expires.After(now) {
			delete(g.claims, key)
		}
	}

	key := dedupKey(senderID, clientMessageID)
	if _, taken := g.claims[key]; taken {
		return false, nil
	}
	g.claims[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryDedupGuard) Release(ctx context.Context, senderID, clientMessageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.claims, dedupKey(senderID, clientMessageID))
	return nil
}

func dedupKey(senderID, clientMessageID string) string {
	return dedupKeyPrefix + senderID + ":" + clientMessageID
}
