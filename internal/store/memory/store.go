// Package memory is the in-process repository set. It also backs the sqlite driver,
// which snapshots its state after every write.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"bufficorns/internal/game"
)

// Snapshot is the full exported state.
type Snapshot struct {
	Players    []game.Player    `json:"players"`
	Bufficorns []game.Bufficorn `json:"bufficorns"`
	Ranches    []game.Ranch     `json:"ranches"`
	Trades     []game.Trade     `json:"trades"`
}

// CommitHook receives the state after each successful write, under the write lock.
type CommitHook func(Snapshot) error

type Store struct {
	mu         sync.RWMutex
	players    map[string]game.Player
	bufficorns map[int]game.Bufficorn
	ranches    map[string]game.Ranch
	trades     []game.Trade
	onCommit   CommitHook
}

func New() *Store {
	return &Store{
		players:    make(map[string]game.Player),
		bufficorns: make(map[int]game.Bufficorn),
		ranches:    make(map[string]game.Ranch),
	}
}

// OnCommit installs the write hook. It must be set before the store is shared.
func (s *Store) OnCommit(hook CommitHook) { s.onCommit = hook }

func (s *Store) Repositories() game.Repositories {
	return game.Repositories{
		Players:    players{s},
		Bufficorns: bufficorns{s},
		Ranches:    ranches{s},
		Trades:     trades{s},
	}
}

func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

func (s *Store) exportLocked() Snapshot {
	out := Snapshot{
		Players:    make([]game.Player, 0, len(s.players)),
		Bufficorns: make([]game.Bufficorn, 0, len(s.bufficorns)),
		Ranches:    make([]game.Ranch, 0, len(s.ranches)),
		Trades:     make([]game.Trade, len(s.trades)),
	}
	for _, p := range s.players {
		out.Players = append(out.Players, clonePlayer(p))
	}
	for _, b := range s.bufficorns {
		out.Bufficorns = append(out.Bufficorns, cloneBufficorn(b))
	}
	for _, r := range s.ranches {
		out.Ranches = append(out.Ranches, r)
	}
	copy(out.Trades, s.trades)
	sort.Slice(out.Players, func(i, j int) bool { return out.Players[i].CreationIndex < out.Players[j].CreationIndex })
	sort.Slice(out.Bufficorns, func(i, j int) bool { return out.Bufficorns[i].CreationIndex < out.Bufficorns[j].CreationIndex })
	sort.Slice(out.Ranches, func(i, j int) bool { return out.Ranches[i].CreationIndex < out.Ranches[j].CreationIndex })
	return out
}

// ImportState replaces the whole state.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.importLocked(snap)
}

func (s *Store) importLocked(snap Snapshot) {
	s.players = make(map[string]game.Player, len(snap.Players))
	for _, p := range snap.Players {
		s.players[p.Key] = clonePlayer(p)
	}
	s.bufficorns = make(map[int]game.Bufficorn, len(snap.Bufficorns))
	for _, b := range snap.Bufficorns {
		s.bufficorns[b.CreationIndex] = cloneBufficorn(b)
	}
	s.ranches = make(map[string]game.Ranch, len(snap.Ranches))
	for _, r := range snap.Ranches {
		r.Bufficorns = nil
		s.ranches[r.Name] = r
	}
	s.trades = append([]game.Trade(nil), snap.Trades...)
}

// write runs fn under the write lock and then the commit hook. A failed commit restores
// the state fn started from.
func (s *Store) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onCommit == nil {
		return fn()
	}
	prev := s.exportLocked()
	if err := fn(); err != nil {
		s.importLocked(prev)
		return err
	}
	if err := s.onCommit(s.exportLocked()); err != nil {
		s.importLocked(prev)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func clonePlayer(p game.Player) game.Player {
	p.Medals = slices.Clone(p.Medals)
	return p
}

func cloneBufficorn(b game.Bufficorn) game.Bufficorn {
	b.Medals = slices.Clone(b.Medals)
	return b
}

type players struct{ s *Store }

func (r players) Get(_ context.Context, key string) (game.Player, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.players[key]
	if !ok {
		return game.Player{}, fmt.Errorf("%w: player %s", game.ErrNotFound, key)
	}
	return clonePlayer(p), nil
}

func (r players) GetByUsername(_ context.Context, username string) (game.Player, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.players {
		if p.Username == username {
			return clonePlayer(p), nil
		}
	}
	return game.Player{}, fmt.Errorf("%w: player %s", game.ErrNotFound, username)
}

func (r players) GetAll(_ context.Context) ([]game.Player, error) {
	return r.s.ExportState().Players, nil
}

func (r players) Update(_ context.Context, p game.Player) error {
	return r.s.write(func() error {
		if _, ok := r.s.players[p.Key]; !ok {
			return fmt.Errorf("%w: player %s", game.ErrNotFound, p.Key)
		}
		r.s.players[p.Key] = clonePlayer(p)
		return nil
	})
}

func (r players) AddPoints(_ context.Context, key string, delta int64) (game.Player, error) {
	var out game.Player
	err := r.s.write(func() error {
		p, ok := r.s.players[key]
		if !ok {
			return fmt.Errorf("%w: player %s", game.ErrNotFound, key)
		}
		p.Points += delta
		r.s.players[key] = p
		out = clonePlayer(p)
		return nil
	})
	if err != nil {
		return game.Player{}, err
	}
	return out, nil
}

func (r players) SetSelectedBufficorn(_ context.Context, key string, creationIndex int) error {
	return r.s.write(func() error {
		p, ok := r.s.players[key]
		if !ok {
			return fmt.Errorf("%w: player %s", game.ErrNotFound, key)
		}
		p.SelectedBufficorn = creationIndex
		r.s.players[key] = p
		return nil
	})
}

func (r players) Create(_ context.Context, in []game.Player) error {
	return r.s.write(func() error {
		for _, p := range in {
			if _, ok := r.s.players[p.Key]; ok {
				return fmt.Errorf("%w: player %s already exists", game.ErrInvalidInput, p.Key)
			}
		}
		for _, p := range in {
			r.s.players[p.Key] = clonePlayer(p)
		}
		return nil
	})
}

type bufficorns struct{ s *Store }

func (r bufficorns) Get(_ context.Context, creationIndex int) (game.Bufficorn, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bufficorns[creationIndex]
	if !ok {
		return game.Bufficorn{}, fmt.Errorf("%w: bufficorn %d", game.ErrNotFound, creationIndex)
	}
	return cloneBufficorn(b), nil
}

func (r bufficorns) GetAll(_ context.Context) ([]game.Bufficorn, error) {
	return r.s.ExportState().Bufficorns, nil
}

// Feed is a read-modify-write under the store's write lock.
func (r bufficorns) Feed(_ context.Context, creationIndex int, ranch string, res game.Resource) (game.Bufficorn, error) {
	var out game.Bufficorn
	err := r.s.write(func() error {
		b, ok := r.s.bufficorns[creationIndex]
		if !ok || b.Ranch != ranch {
			return fmt.Errorf("%w: Bufficorn with creationIndex %d doesn't belong to ranch %s", game.ErrNotFound, creationIndex, ranch)
		}
		if err := b.Grow(res); err != nil {
			return err
		}
		r.s.bufficorns[creationIndex] = b
		out = cloneBufficorn(b)
		return nil
	})
	return out, err
}

func (r bufficorns) Update(_ context.Context, b game.Bufficorn) error {
	return r.s.write(func() error {
		if _, ok := r.s.bufficorns[b.CreationIndex]; !ok {
			return fmt.Errorf("%w: bufficorn %d", game.ErrNotFound, b.CreationIndex)
		}
		r.s.bufficorns[b.CreationIndex] = cloneBufficorn(b)
		return nil
	})
}

func (r bufficorns) Create(_ context.Context, in []game.Bufficorn) error {
	return r.s.write(func() error {
		for _, b := range in {
			if _, ok := r.s.bufficorns[b.CreationIndex]; ok {
				return fmt.Errorf("%w: bufficorn %d already exists", game.ErrInvalidInput, b.CreationIndex)
			}
		}
		for _, b := range in {
			r.s.bufficorns[b.CreationIndex] = cloneBufficorn(b)
		}
		return nil
	})
}

type ranches struct{ s *Store }

func (r ranches) Get(_ context.Context, name string) (game.Ranch, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rn, ok := r.s.ranches[name]
	if !ok {
		return game.Ranch{}, fmt.Errorf("%w: ranch %s", game.ErrNotFound, name)
	}
	return rn, nil
}

func (r ranches) GetAll(_ context.Context) ([]game.Ranch, error) {
	return r.s.ExportState().Ranches, nil
}

func (r ranches) Create(_ context.Context, in []game.Ranch) error {
	return r.s.write(func() error {
		for _, rn := range in {
			if _, ok := r.s.ranches[rn.Name]; ok {
				return fmt.Errorf("%w: ranch %s already exists", game.ErrInvalidInput, rn.Name)
			}
		}
		for _, rn := range in {
			rn.Bufficorns = nil
			r.s.ranches[rn.Name] = rn
		}
		return nil
	})
}

type trades struct{ s *Store }

func (r trades) Create(_ context.Context, t game.Trade) error {
	return r.s.write(func() error {
		r.s.trades = append(r.s.trades, t)
		return nil
	})
}

func (r trades) GetLast(_ context.Context, f game.TradeFilter) (game.Trade, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var (
		last  game.Trade
		found bool
	)
	for _, t := range r.s.trades {
		if f.From != "" && t.From != f.From {
			continue
		}
		if f.To != "" && t.To != f.To {
			continue
		}
		if !found || newer(t, last) {
			last, found = t, true
		}
	}
	return last, found, nil
}

func (r trades) GetManyByUsername(_ context.Context, username string, limit, offset int) ([]game.Trade, error) {
	r.s.mu.RLock()
	matched := make([]game.Trade, 0)
	for _, t := range r.s.trades {
		if t.From == username || t.To == username {
			matched = append(matched, t)
		}
	}
	r.s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool { return newer(matched[i], matched[j]) })
	if offset >= len(matched) {
		return []game.Trade{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r trades) Count(_ context.Context, username string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, t := range r.s.trades {
		if t.From == username || t.To == username {
			n++
		}
	}
	return n, nil
}

// newer orders by timestamp, then ends, both descending.
func newer(a, b game.Trade) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Ends.After(b.Ends)
}
