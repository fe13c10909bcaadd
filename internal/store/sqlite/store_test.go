package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"bufficorns/internal/game"
)

func TestSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "bufficorns.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	repos := s.Repositories()
	ranches, bufficorns, players := game.World(4)
	if err := repos.Ranches.Create(ctx, ranches); err != nil {
		t.Fatalf("create ranches: %v", err)
	}
	if err := repos.Bufficorns.Create(ctx, bufficorns); err != nil {
		t.Fatalf("create bufficorns: %v", err)
	}
	if err := repos.Players.Create(ctx, players); err != nil {
		t.Fatalf("create players: %v", err)
	}
	if _, err := repos.Bufficorns.Feed(ctx, 2, ranches[0].Name, game.Resource{Trait: game.TraitCoat, Amount: 9}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := repos.Trades.Create(ctx, game.Trade{ID: "t1", From: players[0].Username, To: players[1].Username}); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	r := reopened.Repositories()
	b, err := r.Bufficorns.Get(ctx, 2)
	if err != nil || b.Coat != 9 {
		t.Fatalf("expected fed bufficorn to persist, got %+v err=%v", b, err)
	}
	all, _ := r.Players.GetAll(ctx)
	if len(all) != 4 {
		t.Fatalf("expected 4 players, got %d", len(all))
	}
	if n, _ := r.Trades.Count(ctx, players[0].Username); n != 1 {
		t.Fatalf("expected persisted trade, count=%d", n)
	}
}
