package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

var ranchNames = [RanchCount]string{
	"Gold Reef Co.",
	"Infinite Harmony Farm",
	"Lucky Flat Ranch",
	"Opulent Valley Ranch",
	"Vast Palms Farm",
	"Mesa Sunrise Co.",
}

var bufficornNames = [RanchCount * BufficornsPerRanch]string{
	"Bufficorn-0", "Bufficorn-1", "Bufficorn-2", "Bufficorn-3",
	"Bufficorn-4", "Bufficorn-5", "Bufficorn-6", "Bufficorn-7",
	"Bufficorn-8", "Bufficorn-9", "Bufficorn-10", "Bufficorn-11",
	"Bufficorn-12", "Bufficorn-13", "Bufficorn-14", "Bufficorn-15",
	"Bufficorn-16", "Bufficorn-17", "Bufficorn-18", "Bufficorn-19",
	"Bufficorn-20", "Bufficorn-21", "Bufficorn-22", "Bufficorn-23",
}

// playerKeySpace namespaces seeded player keys so every deployment derives the same keys.
var playerKeySpace = uuid.MustParse("6f0c3b7e-4d52-4a36-9b1e-2f2a8c1d5e90")

// PlayerKey is the deterministic key of the i-th seeded player.
func PlayerKey(i int) string {
	return uuid.NewSHA1(playerKeySpace, []byte(fmt.Sprintf("player-%d", i))).String()
}

// World builds the seed: RanchCount ranches of BufficornsPerRanch bufficorns each, and
// players assigned round-robin to ranches. Bufficorn creation indexes are global.
func World(players int) ([]Ranch, []Bufficorn, []Player) {
	ranches := make([]Ranch, 0, RanchCount)
	bufficorns := make([]Bufficorn, 0, len(bufficornNames))
	for r, name := range ranchNames {
		ranches = append(ranches, Ranch{Name: name, CreationIndex: r})
		for j := 0; j < BufficornsPerRanch; j++ {
			idx := r*BufficornsPerRanch + j
			bufficorns = append(bufficorns, Bufficorn{
				Name:          bufficornNames[idx],
				Ranch:         name,
				Medals:        []string{},
				CreationIndex: idx,
			})
		}
	}

	seeded := make([]Player, 0, players)
	for i := 0; i < players; i++ {
		r := i % RanchCount
		seeded = append(seeded, Player{
			Key:               PlayerKey(i),
			Username:          fmt.Sprintf("player%03d", i),
			Ranch:             ranchNames[r],
			SelectedBufficorn: r*BufficornsPerRanch + (i/RanchCount)%BufficornsPerRanch,
			Medals:            []string{},
			CreationIndex:     i,
		})
	}
	return ranches, bufficorns, seeded
}

// SeedWorld populates empty stores. It is a no-op once any ranch exists.
func (s *Service) SeedWorld(ctx context.Context, players int) (bool, error) {
	existing, err := s.ranches.GetAll(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	ranches, bufficorns, seeded := World(players)
	now := s.clock()
	for i := range seeded {
		seeded[i].CreatedAt = now
	}
	if err := s.ranches.Create(ctx, ranches); err != nil {
		return false, fmt.Errorf("seed ranches: %w", err)
	}
	if err := s.bufficorns.Create(ctx, bufficorns); err != nil {
		return false, fmt.Errorf("seed bufficorns: %w", err)
	}
	if err := s.players.Create(ctx, seeded); err != nil {
		return false, fmt.Errorf("seed players: %w", err)
	}
	s.log.Info("world seeded", "ranches", len(ranches), "bufficorns", len(bufficorns), "players", len(seeded))
	return true, nil
}
