package game

import (
	"fmt"
	"time"
)

type Player struct {
	Key               string    `json:"key"`
	Username          string    `json:"username"`
	Ranch             string    `json:"ranch"`
	SelectedBufficorn int       `json:"selectedBufficorn"`
	Points            int64     `json:"points"`
	Token             string    `json:"-"`
	Medals            []string  `json:"medals"`
	CreationIndex     int       `json:"creationIndex"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (p Player) Claimed() bool { return p.Token != "" }

type Bufficorn struct {
	Name          string   `json:"name"`
	Ranch         string   `json:"ranch"`
	Vigor         int64    `json:"vigor"`
	Speed         int64    `json:"speed"`
	Coolness      int64    `json:"coolness"`
	Coat          int64    `json:"coat"`
	Intelligence  int64    `json:"intelligence"`
	Medals        []string `json:"medals"`
	CreationIndex int      `json:"creationIndex"`
}

// Score is the composite used for ranking: the plain sum of the five stats.
func (b Bufficorn) Score() int64 {
	return b.Vigor + b.Speed + b.Coolness + b.Coat + b.Intelligence
}

// Stat returns the counter matching a trait.
func (b Bufficorn) Stat(t Trait) int64 {
	switch t {
	case TraitVigor:
		return b.Vigor
	case TraitSpeed:
		return b.Speed
	case TraitCoolness:
		return b.Coolness
	case TraitCoat:
		return b.Coat
	case TraitIntelligence:
		return b.Intelligence
	}
	return 0
}

// Grow adds the resource amount to the stat matching its trait. Stats never decrease.
func (b *Bufficorn) Grow(r Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	switch r.Trait {
	case TraitVigor:
		b.Vigor += r.Amount
	case TraitSpeed:
		b.Speed += r.Amount
	case TraitCoolness:
		b.Coolness += r.Amount
	case TraitCoat:
		b.Coat += r.Amount
	case TraitIntelligence:
		b.Intelligence += r.Amount
	}
	return nil
}

type Ranch struct {
	Name          string      `json:"name"`
	CreationIndex int         `json:"creationIndex"`
	Bufficorns    []Bufficorn `json:"bufficorns"`
}

// Score aggregates member bufficorn scores.
func (r Ranch) Score() int64 {
	var total int64
	for _, b := range r.Bufficorns {
		total += b.Score()
	}
	return total
}

type Resource struct {
	Trait  Trait `json:"trait"`
	Amount int64 `json:"amount"`
}

func (r Resource) Validate() error {
	if !r.Trait.Valid() {
		return fmt.Errorf("%w: unknown trait %q", ErrInvalidInput, r.Trait)
	}
	if r.Amount < 0 {
		return fmt.Errorf("%w: negative resource amount %d", ErrInvalidInput, r.Amount)
	}
	return nil
}

// Trade is append-only history: one resource fed from one player to another.
type Trade struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Resource  Resource  `json:"resource"`
	Timestamp time.Time `json:"timestamp"`
	Ends      time.Time `json:"ends"`
	Bufficorn string    `json:"bufficorn"`
}

func (t Trade) IsActive(now time.Time) bool {
	return t.Ends.After(now)
}

// TradeInput is an inbound trade request. Cooldown is the test-only override;
// only an explicit zero is meaningful.
type TradeInput struct {
	Token    string
	To       string
	Cooldown *int64
}

// TradeFilter selects trades by party; empty fields match any username.
type TradeFilter struct {
	From string
	To   string
}

type TradeHistory struct {
	Trades []Trade `json:"trades"`
	Total  int64   `json:"total"`
}

type RanchView struct {
	Name          string      `json:"name"`
	CreationIndex int         `json:"creationIndex"`
	Bufficorns    []Bufficorn `json:"bufficorns"`
}

type PlayerView struct {
	Key               string     `json:"key"`
	Username          string     `json:"username"`
	Ranch             RanchView  `json:"ranch"`
	Points            int64      `json:"points"`
	Medals            []string   `json:"medals"`
	SelectedBufficorn int        `json:"selectedBufficorn"`
	CreationIndex     int        `json:"creationIndex"`
	LastTradeIn       *time.Time `json:"lastTradeIn,omitempty"`
	LastTradeOut      *time.Time `json:"lastTradeOut,omitempty"`
}

type PlayerState struct {
	Player   PlayerView `json:"player"`
	TradeIn  *Trade     `json:"tradeIn"`
	TradeOut *Trade     `json:"tradeOut"`
}

type ClaimResult struct {
	Key      string `json:"key"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type PlayerRow struct {
	Rank          int64    `json:"rank"`
	Username      string   `json:"username"`
	Ranch         string   `json:"ranch"`
	Points        int64    `json:"points"`
	Medals        []string `json:"medals"`
	CreationIndex int      `json:"creationIndex"`
}

type BufficornRow struct {
	Rank int64 `json:"rank"`
	Bufficorn
	Score int64 `json:"score"`
}

type RanchRow struct {
	Rank          int64  `json:"rank"`
	Name          string `json:"name"`
	Score         int64  `json:"score"`
	CreationIndex int    `json:"creationIndex"`
}

type Leaderboard struct {
	Players    []PlayerRow    `json:"players"`
	Bufficorns []BufficornRow `json:"bufficorns"`
	Ranches    []RanchRow     `json:"ranches"`
}

type LeaderboardQuery struct {
	Trait  Trait
	Limit  int
	Offset int
}
