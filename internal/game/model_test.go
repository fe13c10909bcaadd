package game

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseTrait(t *testing.T) {
	for _, v := range []string{"vigor", "SPEED", " coolness ", "coat", "Intelligence"} {
		if _, err := ParseTrait(v); err != nil {
			t.Fatalf("expected trait %q to parse: %v", v, err)
		}
	}
	for _, v := range []string{"", "strength", "vigour"} {
		if _, err := ParseTrait(v); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected trait %q to fail with invalid input, got %v", v, err)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"abc", "player_001", "Bufficorn24"}
	for _, s := range valid {
		if err := ValidateUsername(s); err != nil {
			t.Fatalf("expected username %q to be valid: %v", s, err)
		}
	}
	invalid := []string{"ab", "has space", "dash-name", strings.Repeat("x", 25)}
	for _, s := range invalid {
		if err := ValidateUsername(s); err == nil {
			t.Fatalf("expected username %q to fail", s)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0s"},
		{in: -time.Second, want: "0s"},
		{in: time.Millisecond, want: "1s"},
		{in: 90 * time.Second, want: "1m30s"},
		{in: 4*time.Minute + 59*time.Second + 1, want: "5m0s"},
	}
	for _, tc := range tests {
		if got := FormatRemaining(tc.in); got != tc.want {
			t.Fatalf("FormatRemaining(%s) got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestCooldownError(t *testing.T) {
	err := error(&CooldownError{Username: "player002", Remaining: 2 * time.Minute})
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown error to wrap ErrCooldownActive")
	}
	want := "player002 player needs 2m0s to cooldown before trading with you again"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
	var ce *CooldownError
	if !errors.As(err, &ce) || ce.Remaining != 2*time.Minute {
		t.Fatalf("expected errors.As to expose the remaining duration")
	}
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{limit: 0, offset: 0, wantLimit: DefaultHistoryLimit, wantOffset: 0},
		{limit: -3, offset: -1, wantLimit: DefaultHistoryLimit, wantOffset: 0},
		{limit: 25, offset: 5, wantLimit: 25, wantOffset: 5},
		{limit: 1000, offset: 0, wantLimit: MaxHistoryLimit, wantOffset: 0},
	}
	for _, tc := range tests {
		l, o := ClampPage(tc.limit, tc.offset)
		if l != tc.wantLimit || o != tc.wantOffset {
			t.Fatalf("ClampPage(%d,%d) got=(%d,%d) want=(%d,%d)", tc.limit, tc.offset, l, o, tc.wantLimit, tc.wantOffset)
		}
	}
}

func TestBufficornGrowOnlyTouchesMatchingStat(t *testing.T) {
	for _, trait := range Traits {
		b := Bufficorn{Vigor: 1, Speed: 2, Coolness: 3, Coat: 4, Intelligence: 5}
		before := b
		if err := b.Grow(Resource{Trait: trait, Amount: 7}); err != nil {
			t.Fatalf("grow %s: %v", trait, err)
		}
		for _, other := range Traits {
			want := before.Stat(other)
			if other == trait {
				want += 7
			}
			if got := b.Stat(other); got != want {
				t.Fatalf("grow %s: stat %s got=%d want=%d", trait, other, got, want)
			}
		}
	}
}

func TestBufficornGrowRejectsBadResource(t *testing.T) {
	b := Bufficorn{Vigor: 3}
	if err := b.Grow(Resource{Trait: TraitVigor, Amount: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected negative amount to fail, got %v", err)
	}
	if err := b.Grow(Resource{Trait: "luck", Amount: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown trait to fail, got %v", err)
	}
	if b.Vigor != 3 {
		t.Fatalf("rejected growth must not change stats, vigor=%d", b.Vigor)
	}
}

func TestTradeIsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := Trade{Timestamp: now, Ends: now.Add(DefaultTradeDuration)}
	if !tr.IsActive(now) {
		t.Fatalf("expected trade to be active at its timestamp")
	}
	if tr.IsActive(tr.Ends) {
		t.Fatalf("expected trade window to be half-open at ends")
	}
	instant := Trade{Timestamp: now, Ends: now}
	if instant.IsActive(now) {
		t.Fatalf("zero-duration trade must never be active")
	}
}

func TestWorld(t *testing.T) {
	ranches, bufficorns, players := World(13)
	if len(ranches) != RanchCount || len(bufficorns) != RanchCount*BufficornsPerRanch || len(players) != 13 {
		t.Fatalf("unexpected world size: %d ranches %d bufficorns %d players", len(ranches), len(bufficorns), len(players))
	}
	byIndex := make(map[int]Bufficorn, len(bufficorns))
	for i, b := range bufficorns {
		if b.CreationIndex != i {
			t.Fatalf("bufficorn %d has creation index %d", i, b.CreationIndex)
		}
		byIndex[b.CreationIndex] = b
	}
	keys := make(map[string]bool)
	for _, p := range players {
		if keys[p.Key] {
			t.Fatalf("duplicate player key %s", p.Key)
		}
		keys[p.Key] = true
		if byIndex[p.SelectedBufficorn].Ranch != p.Ranch {
			t.Fatalf("player %s selects bufficorn %d outside ranch %s", p.Username, p.SelectedBufficorn, p.Ranch)
		}
		if p.Claimed() {
			t.Fatalf("seeded player %s must start unclaimed", p.Username)
		}
	}
	if PlayerKey(3) != players[3].Key {
		t.Fatalf("player keys must be deterministic")
	}
}
