package game_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bufficorns/internal/auth"
	"bufficorns/internal/game"
	"bufficorns/internal/guard"
	"bufficorns/internal/store/memory"
)

type outcomes struct {
	mu     sync.Mutex
	counts map[string]int
	amount int64
}

func (o *outcomes) TradeOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[outcome]++
}

func (o *outcomes) ResourceGenerated(r game.Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.amount += r.Amount
}

type fixture struct {
	svc       *game.Service
	repos     game.Repositories
	sending   *guard.Memory
	receiving *guard.Memory
	signer    *auth.Signer
	metrics   *outcomes
	now       time.Time
	tokens    map[string]string
}

var seasonStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newFixture seeds six players and claims the first five; player 5 stays unclaimed.
func newFixture(t *testing.T, rules game.Rules) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repos:   memory.New().Repositories(),
		metrics: &outcomes{counts: make(map[string]int)},
		now:     seasonStart,
		tokens:  make(map[string]string),
	}
	clock := func() time.Time { return f.now }
	f.sending = guard.NewMemory(guard.WithClock(clock))
	f.receiving = guard.NewMemory(guard.WithClock(clock))
	signer, err := auth.NewSigner("fixture-secret-0123456789")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	f.signer = signer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = game.NewService(f.repos, f.sending, f.receiving, signer, rules, logger,
		game.WithClock(clock), game.WithRecorder(f.metrics))

	if seeded, err := f.svc.SeedWorld(ctx, 6); err != nil || !seeded {
		t.Fatalf("seed world: seeded=%v err=%v", seeded, err)
	}
	for i := 0; i < 5; i++ {
		res, err := f.svc.Claim(ctx, game.PlayerKey(i), "")
		if err != nil {
			t.Fatalf("claim player %d: %v", i, err)
		}
		f.tokens[res.Key] = res.Token
	}
	f.now = seasonStart.Add(10 * time.Minute)
	return f
}

func (f *fixture) trade(from, to int, cooldown *int64) (game.Trade, error) {
	return f.svc.Trade(context.Background(), game.TradeInput{
		Token:    f.tokens[game.PlayerKey(from)],
		To:       game.PlayerKey(to),
		Cooldown: cooldown,
	})
}

func (f *fixture) player(t *testing.T, i int) game.Player {
	t.Helper()
	p, err := f.repos.Players.Get(context.Background(), game.PlayerKey(i))
	if err != nil {
		t.Fatalf("get player %d: %v", i, err)
	}
	return p
}

func (f *fixture) assertGuardsEmpty(t *testing.T) {
	t.Helper()
	if f.sending.Len() != 0 || f.receiving.Len() != 0 {
		t.Fatalf("expected guards released, sending=%d receiving=%d", f.sending.Len(), f.receiving.Len())
	}
}

// feedHook runs before every Feed so a test can interleave work with a trade in flight.
type feedHook struct {
	game.BufficornStore
	before func(ctx context.Context)
}

func (h feedHook) Feed(ctx context.Context, creationIndex int, ranch string, r game.Resource) (game.Bufficorn, error) {
	h.before(ctx)
	return h.BufficornStore.Feed(ctx, creationIndex, ranch, r)
}

// hookFeed rebuilds the service over the same state with before wrapped around Feed.
func (f *fixture) hookFeed(rules game.Rules, before func(ctx context.Context)) {
	repos := f.repos
	repos.Bufficorns = feedHook{BufficornStore: f.repos.Bufficorns, before: before}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = game.NewService(repos, f.sending, f.receiving, f.signer, rules, logger,
		game.WithClock(func() time.Time { return f.now }), game.WithRecorder(f.metrics))
}

func zero() *int64 {
	v := int64(0)
	return &v
}

func TestTradeSuccess(t *testing.T) {
	f := newFixture(t, game.Rules{})
	ctx := context.Background()
	before := f.player(t, 1)

	tr, err := f.trade(0, 1, nil)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if got := tr.Ends.Sub(tr.Timestamp); got != game.DefaultTradeDuration {
		t.Fatalf("expected trade duration %s, got %s", game.DefaultTradeDuration, got)
	}
	if tr.From != "player000" || tr.To != "player001" || tr.Bufficorn != "Bufficorn-4" {
		t.Fatalf("unexpected trade parties %+v", tr)
	}
	wantTrait := game.KeyedTraitSelector(f.player(t, 0), nil)
	if tr.Resource.Trait != wantTrait || tr.Resource.Amount != game.MinYield+10 {
		t.Fatalf("expected %s x%d, got %+v", wantTrait, game.MinYield+10, tr.Resource)
	}

	after := f.player(t, 1)
	if after.Points != before.Points+tr.Resource.Amount {
		t.Fatalf("expected target points %d, got %d", before.Points+tr.Resource.Amount, after.Points)
	}
	b, _ := f.repos.Bufficorns.Get(ctx, before.SelectedBufficorn)
	if b.Stat(tr.Resource.Trait) != tr.Resource.Amount || b.Score() != tr.Resource.Amount {
		t.Fatalf("expected only %s to grow, got %+v", tr.Resource.Trait, b)
	}
	if n, _ := f.repos.Trades.Count(ctx, "player000"); n != 1 {
		t.Fatalf("expected one persisted trade, got %d", n)
	}
	f.assertGuardsEmpty(t)
	if f.metrics.counts["ok"] != 1 || f.metrics.amount != tr.Resource.Amount {
		t.Fatalf("unexpected metrics %+v", f.metrics.counts)
	}

	// The reverse direction is a different pair and is not on cooldown.
	if _, err := f.trade(1, 0, nil); err != nil {
		t.Fatalf("reverse trade: %v", err)
	}
}

func TestTradeZeroCooldownOverride(t *testing.T) {
	f := newFixture(t, game.Rules{AllowCooldownOverride: true})
	before := f.player(t, 2)

	first, err := f.trade(0, 2, zero())
	if err != nil {
		t.Fatalf("first trade: %v", err)
	}
	if !first.Ends.Equal(first.Timestamp) {
		t.Fatalf("expected zero-duration trade, got %s", first.Ends.Sub(first.Timestamp))
	}
	if got := f.player(t, 2).Points; got != before.Points+first.Resource.Amount {
		t.Fatalf("expected points to grow by %d, got %d", first.Resource.Amount, got)
	}

	second, err := f.trade(0, 2, zero())
	if err != nil {
		t.Fatalf("immediate retry must be allowed: %v", err)
	}
	if second.Resource.Amount != game.MinYield {
		t.Fatalf("rest is measured from the previous trade end, got %d", second.Resource.Amount)
	}
	f.assertGuardsEmpty(t)
}

func TestTradeCooldownOverrideIgnoredOutsideTests(t *testing.T) {
	f := newFixture(t, game.Rules{AllowCooldownOverride: false})
	tr, err := f.trade(0, 1, zero())
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if tr.Ends.Sub(tr.Timestamp) != game.DefaultTradeDuration {
		t.Fatalf("override must be ignored, got duration %s", tr.Ends.Sub(tr.Timestamp))
	}
	if _, err := f.trade(0, 1, zero()); !errors.Is(err, game.ErrCooldownActive) {
		t.Fatalf("expected cooldown, got %v", err)
	}
}

func TestTradeCooldownActive(t *testing.T) {
	f := newFixture(t, game.Rules{})
	ctx := context.Background()
	prior := game.Trade{
		ID:        "prior",
		From:      "player000",
		To:        "player001",
		Resource:  game.Resource{Trait: game.TraitCoat, Amount: 1},
		Timestamp: f.now.Add(-2 * time.Minute),
		Ends:      f.now.Add(3 * time.Minute),
		Bufficorn: "Bufficorn-4",
	}
	if err := f.repos.Trades.Create(ctx, prior); err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	_, err := f.trade(0, 1, nil)
	var ce *game.CooldownError
	if !errors.As(err, &ce) {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if ce.Remaining != 3*time.Minute || ce.Username != "player001" {
		t.Fatalf("unexpected cooldown %+v", ce)
	}
	f.assertGuardsEmpty(t)

	f.now = prior.Ends
	tr, err := f.trade(0, 1, nil)
	if err != nil {
		t.Fatalf("trade after cooldown: %v", err)
	}
	if tr.Resource.Amount != game.MinYield {
		t.Fatalf("expected minimum yield right at ends, got %d", tr.Resource.Amount)
	}
	f.now = f.now.Add(time.Second)
	if _, err := f.trade(0, 1, nil); !errors.Is(err, game.ErrCooldownActive) {
		t.Fatalf("new trade restarts the cooldown, got %v", err)
	}
}

func TestTradeRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) game.TradeInput
		want  error
	}{
		{
			name: "invalid token",
			setup: func(f *fixture) game.TradeInput {
				return game.TradeInput{Token: "v1.forged.0.AAAA", To: game.PlayerKey(1)}
			},
			want: game.ErrInvalidToken,
		},
		{
			name: "target does not exist",
			setup: func(f *fixture) game.TradeInput {
				return game.TradeInput{Token: f.tokens[game.PlayerKey(0)], To: "P9"}
			},
			want: game.ErrTargetNotFound,
		},
		{
			name: "target unclaimed",
			setup: func(f *fixture) game.TradeInput {
				return game.TradeInput{Token: f.tokens[game.PlayerKey(0)], To: game.PlayerKey(5)}
			},
			want: game.ErrTargetUnclaimed,
		},
		{
			name: "source token for deleted player",
			setup: func(f *fixture) game.TradeInput {
				tok, _ := f.signer.Issue("ghost")
				return game.TradeInput{Token: tok, To: game.PlayerKey(1)}
			},
			want: game.ErrSourceNotFound,
		},
		{
			name: "source unclaimed",
			setup: func(f *fixture) game.TradeInput {
				tok, _ := f.signer.Issue(game.PlayerKey(5))
				return game.TradeInput{Token: tok, To: game.PlayerKey(1)}
			},
			want: game.ErrSourceUnclaimed,
		},
		{
			name: "self trade",
			setup: func(f *fixture) game.TradeInput {
				return game.TradeInput{Token: f.tokens[game.PlayerKey(0)], To: game.PlayerKey(0)}
			},
			want: game.ErrSelfTrade,
		},
		{
			name: "missing target",
			setup: func(f *fixture) game.TradeInput {
				return game.TradeInput{Token: f.tokens[game.PlayerKey(0)]}
			},
			want: game.ErrInvalidInput,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, game.Rules{})
			before := f.player(t, 1)
			_, err := f.svc.Trade(context.Background(), tc.setup(f))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			f.assertGuardsEmpty(t)
			if f.player(t, 1).Points != before.Points {
				t.Fatalf("rejected trade must not change points")
			}
		})
	}
}

func TestTradePeriodClosedComesFirst(t *testing.T) {
	f := newFixture(t, game.Rules{PeriodEnds: seasonStart.Add(5 * time.Minute)})
	_, err := f.svc.Trade(context.Background(), game.TradeInput{Token: "garbage", To: game.PlayerKey(1)})
	if !errors.Is(err, game.ErrPeriodClosed) {
		t.Fatalf("expected period closed before token check, got %v", err)
	}
	if f.metrics.counts["period_closed"] != 1 {
		t.Fatalf("expected period_closed outcome, got %+v", f.metrics.counts)
	}
}

func TestTradeSlotConflictLeavesExistingMarks(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, game.Rules{})
	_ = f.sending.Add(ctx, game.PlayerKey(0))
	if _, err := f.trade(0, 1, nil); !errors.Is(err, game.ErrSourceBusy) {
		t.Fatalf("expected source busy, got %v", err)
	}
	if ok, _ := f.sending.IsValid(ctx, game.PlayerKey(0)); ok || f.sending.Len() != 1 || f.receiving.Len() != 0 {
		t.Fatalf("existing mark must be the only one left")
	}

	f = newFixture(t, game.Rules{})
	_ = f.receiving.Add(ctx, game.PlayerKey(1))
	if _, err := f.trade(0, 1, nil); !errors.Is(err, game.ErrTargetBusy) {
		t.Fatalf("expected target busy, got %v", err)
	}
	if f.sending.Len() != 0 || f.receiving.Len() != 1 {
		t.Fatalf("sender mark must be rolled back, sending=%d receiving=%d", f.sending.Len(), f.receiving.Len())
	}

	// A player receiving in another trade cannot start sending.
	f = newFixture(t, game.Rules{})
	_ = f.receiving.Add(ctx, game.PlayerKey(0))
	if _, err := f.trade(0, 1, nil); !errors.Is(err, game.ErrSlotConflict) {
		t.Fatalf("expected slot conflict, got %v", err)
	}
	if ok, _ := f.receiving.IsValid(ctx, game.PlayerKey(1)); !ok || f.sending.Len() != 0 || f.receiving.Len() != 1 {
		t.Fatalf("only the pre-existing receiving mark may remain")
	}
}

func TestTradeGrowthRejectedReleasesMarks(t *testing.T) {
	f := newFixture(t, game.Rules{})
	ctx := context.Background()
	target := f.player(t, 1)
	target.SelectedBufficorn = 0 // belongs to another ranch
	if err := f.repos.Players.Update(ctx, target); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err := f.trade(0, 1, nil)
	if !errors.Is(err, game.ErrGrowthRejected) {
		t.Fatalf("expected growth rejected, got %v", err)
	}
	f.assertGuardsEmpty(t)
	if f.player(t, 1).Points != 0 {
		t.Fatalf("points must not change when growth fails")
	}
	if n, _ := f.repos.Trades.Count(ctx, "player001"); n != 0 {
		t.Fatalf("no trade may be persisted, got %d", n)
	}
}

func TestTradeKeepsSelectionChangedDuringFeed(t *testing.T) {
	f := newFixture(t, game.Rules{})
	ctx := context.Background()
	target := f.player(t, 1)

	all, err := f.repos.Bufficorns.GetAll(ctx)
	if err != nil {
		t.Fatalf("bufficorns: %v", err)
	}
	other := -1
	for _, b := range all {
		if b.Ranch == target.Ranch && b.CreationIndex != target.SelectedBufficorn {
			other = b.CreationIndex
			break
		}
	}
	if other < 0 {
		t.Fatalf("ranch %s has a single bufficorn", target.Ranch)
	}

	f.hookFeed(game.Rules{}, func(ctx context.Context) {
		if _, err := f.svc.SelectBufficorn(ctx, f.tokens[target.Key], other); err != nil {
			t.Errorf("select during feed: %v", err)
		}
	})
	tr, err := f.trade(0, 1, nil)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}

	after := f.player(t, 1)
	if after.SelectedBufficorn != other {
		t.Fatalf("selection made during the trade was overwritten: want %d, got %d", other, after.SelectedBufficorn)
	}
	if after.Points != target.Points+tr.Resource.Amount {
		t.Fatalf("expected points %d, got %d", target.Points+tr.Resource.Amount, after.Points)
	}
	fed, _ := f.repos.Bufficorns.Get(ctx, target.SelectedBufficorn)
	if tr.Bufficorn != fed.Name {
		t.Fatalf("the bufficorn selected at trade time must be fed, got %s", tr.Bufficorn)
	}
}

func TestTradeReleaseKeepsMarkOfLaterRequest(t *testing.T) {
	f := newFixture(t, game.Rules{})
	var later string
	f.hookFeed(game.Rules{}, func(ctx context.Context) {
		// The in-flight mark outlives its ttl and another request takes the slot.
		f.now = f.now.Add(time.Minute)
		owner, ok, err := f.sending.Reserve(ctx, game.PlayerKey(0))
		if err != nil || !ok {
			t.Errorf("expired mark must be reservable: ok=%v err=%v", ok, err)
		}
		later = owner
	})
	if _, err := f.trade(0, 1, nil); err != nil {
		t.Fatalf("trade: %v", err)
	}

	ctx := context.Background()
	if free, _ := f.sending.IsValid(ctx, game.PlayerKey(0)); free {
		t.Fatalf("finishing the first trade must not clear the later reservation")
	}
	if f.receiving.Len() != 0 {
		t.Fatalf("the trade's own receiving mark must be released, got %d", f.receiving.Len())
	}
	_ = f.sending.Release(ctx, game.PlayerKey(0), later)
	f.assertGuardsEmpty(t)
}

func TestTradeConcurrentRequestsForSamePair(t *testing.T) {
	f := newFixture(t, game.Rules{})
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.trade(0, 1, nil)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, game.ErrSlotConflict) && !errors.Is(err, game.ErrCooldownActive) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one trade, got %d", successes)
	}
	if n, _ := f.repos.Trades.Count(context.Background(), "player000"); n != 1 {
		t.Fatalf("expected one persisted trade, got %d", n)
	}
	f.assertGuardsEmpty(t)
}

func TestTradeConcurrentDistinctPairs(t *testing.T) {
	f := newFixture(t, game.Rules{})
	pairs := [][2]int{{0, 1}, {2, 3}}
	var wg sync.WaitGroup
	errs := make([]error, len(pairs))
	for i, p := range pairs {
		wg.Add(1)
		go func(i, from, to int) {
			defer wg.Done()
			_, errs[i] = f.trade(from, to, nil)
		}(i, p[0], p[1])
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("pair %v: %v", pairs[i], err)
		}
	}
	f.assertGuardsEmpty(t)
}
