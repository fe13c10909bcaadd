package game

import (
	"hash/fnv"
	"time"
)

// TraitSelector picks the trait a player generates. It must be a pure function of its inputs.
type TraitSelector func(p Player, last *Trade) Trait

// KeyedTraitSelector hashes the player key over the trait enumeration, so each player
// always offers the same trait.
func KeyedTraitSelector(p Player, _ *Trade) Trait {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.Key))
	return Traits[h.Sum32()%uint32(len(Traits))]
}

// RotatingTraitSelector advances one trait past the trait of the last trade, starting
// from the player's keyed trait.
func RotatingTraitSelector(p Player, last *Trade) Trait {
	if last == nil || !last.Resource.Trait.Valid() {
		return KeyedTraitSelector(p, nil)
	}
	for i, t := range Traits {
		if t == last.Resource.Trait {
			return Traits[(i+1)%len(Traits)]
		}
	}
	return KeyedTraitSelector(p, nil)
}

type ResourceGenerator struct {
	Select   TraitSelector
	Min      int64
	Max      int64
	Interval time.Duration
}

func NewResourceGenerator(sel TraitSelector) *ResourceGenerator {
	if sel == nil {
		sel = KeyedTraitSelector
	}
	return &ResourceGenerator{
		Select:   sel,
		Min:      MinYield,
		Max:      MaxYield,
		Interval: YieldInterval,
	}
}

// Generate derives the resource p can offer at now. Rest is measured from the end of the
// last trade, or from the player's creation when there is none.
func (g *ResourceGenerator) Generate(p Player, last *Trade, now time.Time) Resource {
	since := p.CreatedAt
	if last != nil {
		since = last.Ends
	}
	return Resource{
		Trait:  g.Select(p, last),
		Amount: g.Amount(now.Sub(since)),
	}
}

// Amount is non-decreasing in elapsed and bounded by [Min, Max].
func (g *ResourceGenerator) Amount(elapsed time.Duration) int64 {
	if elapsed <= 0 || g.Interval <= 0 {
		return g.Min
	}
	amount := g.Min + int64(elapsed/g.Interval)
	if amount > g.Max || amount < g.Min {
		return g.Max
	}
	return amount
}
