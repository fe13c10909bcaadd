package guard

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisKeyLayout(t *testing.T) {
	r := NewRedis(nil, "sending", WithPrefix(":bufficorns:test:"))
	if got := r.key("abc"); got != "bufficorns:test:sending:abc" {
		t.Fatalf("unexpected key %q", got)
	}
	if r.inflightTTL != 30*time.Second {
		t.Fatalf("expected default in-flight ttl, got %s", r.inflightTTL)
	}
}

func TestRedisReserveAgainstServer(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = rdb.Close() }()

	prefix := "bufficorns:test:" + time.Now().Format("150405.000000")
	sending := NewRedis(rdb, "sending", WithPrefix(prefix), WithRedisInflightTTL(5*time.Second))
	receiving := NewRedis(rdb, "receiving", WithPrefix(prefix))

	owner, ok, err := sending.Reserve(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := sending.Reserve(ctx, "p1"); ok {
		t.Fatalf("second reserve must fail")
	}
	if free, _ := receiving.IsValid(ctx, "p1"); !free {
		t.Fatalf("roles must be independent")
	}
	if err := sending.Release(ctx, "p1", "not-the-owner"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if free, _ := sending.IsValid(ctx, "p1"); free {
		t.Fatalf("release with a foreign owner must keep the mark")
	}
	if err := sending.Release(ctx, "p1", owner); err != nil {
		t.Fatalf("release: %v", err)
	}
	if free, _ := sending.IsValid(ctx, "p1"); !free {
		t.Fatalf("expected key free after release")
	}
	_ = sending.Add(ctx, "p2")
	if err := sending.Delete(ctx, "p2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
