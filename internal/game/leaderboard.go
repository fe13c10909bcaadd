package game

import (
	"context"
	"sort"
)

// RankPlayers orders by points descending, then creation index ascending.
func RankPlayers(players []Player) []PlayerRow {
	sorted := make([]Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Points != sorted[j].Points {
			return sorted[i].Points > sorted[j].Points
		}
		return sorted[i].CreationIndex < sorted[j].CreationIndex
	})
	out := make([]PlayerRow, 0, len(sorted))
	for i, p := range sorted {
		out = append(out, PlayerRow{
			Rank:          int64(i + 1),
			Username:      p.Username,
			Ranch:         p.Ranch,
			Points:        p.Points,
			Medals:        nonNil(p.Medals),
			CreationIndex: p.CreationIndex,
		})
	}
	return out
}

// RankBufficorns orders by composite score descending, then creation index ascending.
func RankBufficorns(bufficorns []Bufficorn) []BufficornRow {
	sorted := make([]Bufficorn, len(bufficorns))
	copy(sorted, bufficorns)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Score(), sorted[j].Score()
		if si != sj {
			return si > sj
		}
		return sorted[i].CreationIndex < sorted[j].CreationIndex
	})
	out := make([]BufficornRow, 0, len(sorted))
	for i, b := range sorted {
		b.Medals = nonNil(b.Medals)
		out = append(out, BufficornRow{Rank: int64(i + 1), Bufficorn: b, Score: b.Score()})
	}
	return out
}

// RankRanches groups bufficorns into their ranches and orders ranches by aggregate score.
// Membership comes from the bufficorns' own ranch field and is never modified.
func RankRanches(ranches []Ranch, bufficorns []Bufficorn) []RanchRow {
	byRanch := GroupByRanch(bufficorns)
	scored := make([]RanchRow, 0, len(ranches))
	for _, r := range ranches {
		r.Bufficorns = byRanch[r.Name]
		scored = append(scored, RanchRow{Name: r.Name, Score: r.Score(), CreationIndex: r.CreationIndex})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreationIndex < scored[j].CreationIndex
	})
	for i := range scored {
		scored[i].Rank = int64(i + 1)
	}
	return scored
}

func GroupByRanch(bufficorns []Bufficorn) map[string][]Bufficorn {
	out := make(map[string][]Bufficorn)
	for _, b := range bufficorns {
		out[b.Ranch] = append(out[b.Ranch], b)
	}
	for name := range out {
		group := out[name]
		sort.Slice(group, func(i, j int) bool { return group[i].CreationIndex < group[j].CreationIndex })
	}
	return out
}

// BuildLeaderboard ranks the three collections and pages each list independently.
func BuildLeaderboard(players []Player, bufficorns []Bufficorn, ranches []Ranch, limit, offset int) Leaderboard {
	return Leaderboard{
		Players:    page(RankPlayers(players), limit, offset),
		Bufficorns: page(RankBufficorns(bufficorns), limit, offset),
		Ranches:    page(RankRanches(ranches, bufficorns), limit, offset),
	}
}

// Leaderboard reads the three collections and ranks them. The trait is validated but does
// not change the ranking.
func (s *Service) Leaderboard(ctx context.Context, q LeaderboardQuery) (Leaderboard, error) {
	if q.Trait != "" && !q.Trait.Valid() {
		return Leaderboard{}, ErrInvalidInput
	}
	bufficorns, err := s.bufficorns.GetAll(ctx)
	if err != nil {
		return Leaderboard{}, err
	}
	ranches, err := s.ranches.GetAll(ctx)
	if err != nil {
		return Leaderboard{}, err
	}
	players, err := s.players.GetAll(ctx)
	if err != nil {
		return Leaderboard{}, err
	}
	return BuildLeaderboard(players, bufficorns, ranches, q.Limit, q.Offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
