package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tutorhub/signaling/services"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := services.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisDedupGuard(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	g := services.NewRedisDedupGuard(client, time.Minute)

	ok, err := g.Claim(ctx, "alice", "m1")
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	if ok, _ := g.Claim(ctx, "alice", "m1"); ok {
		t.Fatalf("duplicate claim succeeded")
	}
	if ok, _ := g.Claim(ctx, "bob", "m1"); !ok {
		t.Fatalf("claims must be scoped per sender")
	}

	if err := g.Release(ctx, "alice", "m1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := g.Claim(ctx, "alice", "m1"); !ok {
		t.Fatalf("claim after release failed")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := g.Claim(ctx, "alice", "m1"); !ok {
		t.Fatalf("claim after ttl failed")
	}
}

func TestMemoryDedupGuardExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g := services.NewMemoryDedupGuard(time.Minute, clock.Now)

	if ok, _ := g.Claim(ctx, "alice", "m1"); !ok {
		t.Fatalf("first claim failed")
	}
	if ok, _ := g.Claim(ctx, "alice", "m1"); ok {
		t.Fatalf("duplicate claim succeeded")
	}
	clock.Advance(time.Minute)
	if ok, _ := g.Claim(ctx, "alice", "m1"); !ok {
		t.Fatalf("claim did not expire")
	}
}

func TestRedisPresenceMirror(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	m := services.NewRedisPresenceMirror(client, time.Minute)

	if err := m.MarkOnline(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if !mr.Exists("presence:alice") {
		t.Fatalf("presence key not written")
	}
	if members, _ := mr.Members("online_users"); len(members) != 1 || members[0] != "alice" {
		t.Fatalf("online set = %v", members)
	}

	record, err := m.Status(ctx, "alice")
	if err != nil || record.Status != "online" || record.ConnectionID != "conn-1" {
		t.Fatalf("status = %+v, %v", record, err)
	}

	mr.FastForward(50 * time.Second)
	if err := m.Touch(ctx, "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ttl := mr.TTL("presence:alice"); ttl != time.Minute {
		t.Fatalf("touch did not refresh ttl: %v", ttl)
	}

	if err := m.MarkOffline(ctx, "alice"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	record, _ = m.Status(ctx, "alice")
	if record.Status != "offline" {
		t.Fatalf("expected offline, got %+v", record)
	}
}

func TestRedisPresenceMirrorTouchKeepsMissingRecordMissing(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	m := services.NewRedisPresenceMirror(client, time.Minute)

	if err := m.Touch(ctx, "ghost"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if mr.Exists("presence:ghost") {
		t.Fatalf("touch created a presence record")
	}
	if members, _ := mr.Members("online_users"); len(members) != 0 {
		t.Fatalf("touch added %v to the online set", members)
	}
}

func TestHeartbeatFromSupersededConnection(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	mirror := services.NewRedisPresenceMirror(client, time.Minute)
	h := newHarness(t, services.WithPresenceMirror(mirror))

	stale := newFakeConn("conn-old")
	fresh := newFakeConn("conn-new")
	h.coord.Join(ctx, stale, services.Identity{UserID: "alice"}, "")
	h.coord.Join(ctx, fresh, services.Identity{UserID: "alice"}, "")

	mr.FastForward(50 * time.Second)
	h.coord.Heartbeat(ctx, fresh)
	if ttl := mr.TTL("presence:alice"); ttl != time.Minute {
		t.Fatalf("live heartbeat did not refresh ttl: %v", ttl)
	}

	h.coord.Leave(ctx, fresh)
	h.coord.Heartbeat(ctx, stale)

	if h.coord.IsOnline("alice") {
		t.Fatalf("registry still has alice")
	}
	if mr.Exists("presence:alice") {
		t.Fatalf("stale heartbeat resurrected the presence record")
	}
	if members, _ := mr.Members("online_users"); len(members) != 0 {
		t.Fatalf("online set = %v after alice left", members)
	}
	record, err := mirror.Status(ctx, "alice")
	if err != nil || record.Status != "offline" {
		t.Fatalf("status = %+v, %v", record, err)
	}
}
