// Package guard holds the busy-slot registries used by the trade engine.
package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local registry: a lock-protected map of key to mark.
// Marks older than the in-flight TTL count as free and are swept by the janitor.
type Memory struct {
	mu           sync.Mutex
	marks        map[string]mark
	inflightTTL  time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
	log          *slog.Logger
}

// mark is one busy entry. owner is empty for marks set with Add; until is zero when the
// registry has no in-flight TTL.
type mark struct {
	owner string
	until time.Time
}

type MemoryOption func(*Memory)

func WithInflightTTL(d time.Duration) MemoryOption {
	return func(m *Memory) { m.inflightTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(m *Memory) { m.cleanupEvery = d }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func WithLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) {
		if logger != nil {
			m.log = logger
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		marks:        make(map[string]mark),
		inflightTTL:  30 * time.Second,
		cleanupEvery: 30 * time.Second,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) IsValid(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.busyLocked(key, m.now()), nil
}

// Reserve marks key busy only if it is currently free and returns the owner token that
// Release needs.
func (m *Memory) Reserve(_ context.Context, key string) (string, bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyLocked(key, now) {
		return "", false, nil
	}
	owner := uuid.NewString()
	m.marks[key] = mark{owner: owner, until: m.deadline(now)}
	return owner, true, nil
}

// Release clears the mark only while owner still holds it. A mark that expired and was
// reserved again belongs to the newer request and stays.
func (m *Memory) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.marks[key]; ok && owner != "" && cur.owner == owner {
		delete(m.marks, key)
	}
	return nil
}

func (m *Memory) Add(_ context.Context, key string) error {
	now := m.now()
	m.mu.Lock()
	m.marks[key] = mark{until: m.deadline(now)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.marks, key)
	m.mu.Unlock()
	return nil
}

// Len counts live marks.
func (m *Memory) Len() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.marks {
		if m.busyLocked(k, now) {
			n++
		}
	}
	return n
}

func (m *Memory) deadline(now time.Time) time.Time {
	if m.inflightTTL <= 0 {
		return time.Time{}
	}
	return now.Add(m.inflightTTL)
}

func (m *Memory) busyLocked(key string, now time.Time) bool {
	cur, ok := m.marks[key]
	if !ok {
		return false
	}
	return cur.until.IsZero() || now.Before(cur.until)
}

// Cleanup drops expired marks and reports how many were removed.
func (m *Memory) Cleanup() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.marks {
		if !m.busyLocked(k, now) {
			delete(m.marks, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired marks until ctx is done.
func (m *Memory) StartJanitor(ctx context.Context) {
	if m.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(m.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := m.Cleanup(); n > 0 {
					m.log.Warn("guard swept stale marks", "count", n)
				}
			}
		}
	}()
}
