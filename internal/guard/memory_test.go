package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryAddDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if ok, _ := m.IsValid(ctx, "p1"); !ok {
		t.Fatalf("expected empty registry to report key free")
	}
	_ = m.Add(ctx, "p1")
	_ = m.Add(ctx, "p1")
	if ok, _ := m.IsValid(ctx, "p1"); ok {
		t.Fatalf("expected key to be busy after add")
	}
	if m.Len() != 1 {
		t.Fatalf("expected one mark, got %d", m.Len())
	}
	_ = m.Delete(ctx, "p1")
	_ = m.Delete(ctx, "p1")
	_ = m.Delete(ctx, "never-added")
	if ok, _ := m.IsValid(ctx, "p1"); !ok {
		t.Fatalf("expected key free after delete")
	}
}

func TestMemoryReserveIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, ok, _ := m.Reserve(ctx, "p1"); !ok {
		t.Fatalf("first reserve must succeed")
	}
	if _, ok, _ := m.Reserve(ctx, "p1"); ok {
		t.Fatalf("second reserve must fail while marked")
	}
	if _, ok, _ := m.Reserve(ctx, "p2"); !ok {
		t.Fatalf("other keys are independent")
	}
}

func TestMemoryReserveRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.Reserve(ctx, "contended"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemoryInflightTTLAndCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithInflightTTL(10*time.Second), WithClock(func() time.Time { return now }))

	_, _, _ = m.Reserve(ctx, "stale")
	now = now.Add(5 * time.Second)
	_, _, _ = m.Reserve(ctx, "fresh")
	if ok, _ := m.IsValid(ctx, "stale"); ok {
		t.Fatalf("mark must stay busy within its ttl")
	}

	now = now.Add(6 * time.Second)
	if ok, _ := m.IsValid(ctx, "stale"); !ok {
		t.Fatalf("expired mark must count as free")
	}
	if _, ok, _ := m.Reserve(ctx, "stale"); !ok {
		t.Fatalf("expired mark must be reservable")
	}
	_ = m.Delete(ctx, "stale")

	if removed := m.Cleanup(); removed != 0 {
		t.Fatalf("expected nothing to sweep yet, removed %d", removed)
	}
	now = now.Add(time.Minute)
	if removed := m.Cleanup(); removed != 1 {
		t.Fatalf("expected fresh mark to be swept, removed %d", removed)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", m.Len())
	}
}

func TestMemoryReleaseKeepsNewerOwner(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithInflightTTL(10*time.Second), WithClock(func() time.Time { return now }))

	first, ok, _ := m.Reserve(ctx, "p1")
	if !ok || first == "" {
		t.Fatalf("first reserve must succeed with an owner token")
	}
	now = now.Add(11 * time.Second)
	second, ok, _ := m.Reserve(ctx, "p1")
	if !ok || second == first {
		t.Fatalf("expired mark must be reservable by a new owner")
	}

	if err := m.Release(ctx, "p1", first); err != nil {
		t.Fatalf("release: %v", err)
	}
	if free, _ := m.IsValid(ctx, "p1"); free {
		t.Fatalf("stale owner must not clear the newer reservation")
	}
	if err := m.Release(ctx, "p1", second); err != nil {
		t.Fatalf("release: %v", err)
	}
	if free, _ := m.IsValid(ctx, "p1"); !free {
		t.Fatalf("current owner must clear its own mark")
	}
}

func TestMemoryReleaseLeavesManualMarks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Add(ctx, "pinned")
	_ = m.Release(ctx, "pinned", "someone-else")
	_ = m.Release(ctx, "pinned", "")
	if free, _ := m.IsValid(ctx, "pinned"); free {
		t.Fatalf("release must not clear a mark it does not own")
	}
}

func TestMemoryWithoutTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithInflightTTL(0), WithClock(func() time.Time { return now }))
	_ = m.Add(ctx, "p1")
	now = now.Add(24 * time.Hour)
	if ok, _ := m.IsValid(ctx, "p1"); ok {
		t.Fatalf("mark without ttl must stay busy until deleted")
	}
	if m.Cleanup() != 0 {
		t.Fatalf("cleanup must keep marks without ttl")
	}
}
