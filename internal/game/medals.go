package game

import (
	"context"
	"fmt"
	"time"
)

var Medals = []string{"gold", "silver", "bronze"}

// AwardMedals gives the season medals to the top scoring players and bufficorns. It only
// runs after the trade period has closed; medal sets make repeated runs a no-op.
func (s *Service) AwardMedals(ctx context.Context) (int, error) {
	if !s.PeriodClosed(s.clock()) {
		return 0, nil
	}
	players, err := s.players.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	bufficorns, err := s.bufficorns.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	awarded := 0
	for i, row := range RankPlayers(players) {
		if i >= len(Medals) || row.Points == 0 {
			break
		}
		p, err := s.players.GetByUsername(ctx, row.Username)
		if err != nil {
			return awarded, fmt.Errorf("award player %s: %w", row.Username, err)
		}
		var changed bool
		if p.Medals, changed = addMedal(p.Medals, Medals[i]); !changed {
			continue
		}
		if err := s.players.Update(ctx, p); err != nil {
			return awarded, err
		}
		awarded++
	}
	for i, row := range RankBufficorns(bufficorns) {
		if i >= len(Medals) || row.Score == 0 {
			break
		}
		b := row.Bufficorn
		var changed bool
		if b.Medals, changed = addMedal(b.Medals, Medals[i]); !changed {
			continue
		}
		if err := s.bufficorns.Update(ctx, b); err != nil {
			return awarded, err
		}
		awarded++
	}
	if awarded > 0 {
		s.log.Info("medals awarded", "count", awarded)
	}
	return awarded, nil
}

// RunMedalLoop calls AwardMedals every tick until ctx is cancelled.
func (s *Service) RunMedalLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.AwardMedals(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("award medals failed", "error", err)
			}
		}
	}
}

func addMedal(medals []string, medal string) ([]string, bool) {
	for _, m := range medals {
		if m == medal {
			return medals, false
		}
	}
	return append(medals, medal), true
}
