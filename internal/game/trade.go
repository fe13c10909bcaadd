package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TradeState is how far a trade request got through the pipeline.
type TradeState int

const (
	StateReceived TradeState = iota
	StateTokenVerified
	StateSlotReserved
	StateValidated
	StateResourceComputed
	StateApplied
	StatePersisted
)

func (s TradeState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateTokenVerified:
		return "token_verified"
	case StateSlotReserved:
		return "slot_reserved"
	case StateValidated:
		return "validated"
	case StateResourceComputed:
		return "resource_computed"
	case StateApplied:
		return "applied"
	case StatePersisted:
		return "persisted"
	}
	return "unknown"
}

func newTradeID() string { return uuid.NewString() }

// OutcomeOf names the metric outcome of a trade error.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPeriodClosed):
		return "period_closed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrSelfTrade):
		return "self_trade"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnclaimed):
		return "unclaimed"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown"
	case errors.Is(err, ErrGrowthRejected):
		return "growth_rejected"
	}
	return "error"
}

type tradeRun struct {
	state TradeState
	from  string
	to    string
	slots *reservation
}

// reservation holds the owner tokens of both marks taken for one request.
type reservation struct {
	from, to                string
	sendOwner, receiveOwner string
}

// Trade runs one trade request from the token holder to in.To.
func (s *Service) Trade(ctx context.Context, in TradeInput) (Trade, error) {
	run := &tradeRun{state: StateReceived, to: in.To}
	t, err := s.trade(ctx, in, run)
	if run.slots != nil {
		s.release(ctx, run.slots)
	}
	if err != nil {
		outcome := OutcomeOf(err)
		s.metrics.TradeOutcome(outcome)
		if outcome == "error" {
			s.log.Error("trade failed", "state", run.state.String(), "from", run.from, "to", run.to, "error", err)
		} else {
			s.log.Info("trade rejected", "state", run.state.String(), "from", run.from, "to", run.to, "reason", err.Error())
		}
		return Trade{}, err
	}
	s.metrics.TradeOutcome("ok")
	s.metrics.ResourceGenerated(t.Resource)
	s.log.Info("trade persisted", "id", t.ID, "from", t.From, "to", t.To, "trait", string(t.Resource.Trait), "amount", t.Resource.Amount, "ends", t.Ends)
	return t, nil
}

func (s *Service) trade(ctx context.Context, in TradeInput, run *tradeRun) (Trade, error) {
	now := s.clock()
	if s.PeriodClosed(now) {
		return Trade{}, ErrPeriodClosed
	}

	fromKey, err := s.authenticate(in.Token)
	if err != nil {
		return Trade{}, err
	}
	run.from = fromKey
	run.state = StateTokenVerified

	if in.To == "" {
		return Trade{}, fmt.Errorf("%w: target player key is required", ErrInvalidInput)
	}
	if in.To == fromKey {
		return Trade{}, ErrSelfTrade
	}
	bypass := s.rules.AllowCooldownOverride && in.Cooldown != nil && *in.Cooldown == 0

	slots, err := s.reserve(ctx, fromKey, in.To)
	if err != nil {
		return Trade{}, err
	}
	run.slots = slots
	run.state = StateSlotReserved

	source, err := s.players.Get(ctx, fromKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Trade{}, fmt.Errorf("%w (key: %s)", ErrSourceNotFound, fromKey)
		}
		return Trade{}, err
	}
	if !source.Claimed() {
		return Trade{}, ErrSourceUnclaimed
	}
	target, err := s.players.Get(ctx, in.To)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Trade{}, fmt.Errorf("%w with key %s", ErrTargetNotFound, in.To)
		}
		return Trade{}, err
	}
	if !target.Claimed() {
		return Trade{}, ErrTargetUnclaimed
	}

	last, found, err := s.trades.GetLast(ctx, TradeFilter{From: source.Username, To: target.Username})
	if err != nil {
		return Trade{}, err
	}
	var lastTrade *Trade
	if found {
		lastTrade = &last
		if remaining := last.Ends.Sub(now); remaining > 0 && !bypass {
			return Trade{}, &CooldownError{Username: target.Username, Remaining: remaining}
		}
	}
	run.state = StateValidated

	resource := s.resources.Generate(source, lastTrade, now)
	run.state = StateResourceComputed

	fed, err := Grow(ctx, s.bufficorns, target.SelectedBufficorn, target.Ranch, resource)
	if err != nil {
		return Trade{}, err
	}

	if _, err := s.players.AddPoints(ctx, target.Key, resource.Amount); err != nil {
		return Trade{}, err
	}
	run.state = StateApplied

	duration := s.rules.TradeDuration
	if bypass {
		duration = 0
	}
	t := Trade{
		ID:        s.newID(),
		From:      source.Username,
		To:        target.Username,
		Resource:  resource,
		Timestamp: now,
		Ends:      now.Add(duration),
		Bufficorn: fed.Name,
	}
	if err := s.trades.Create(ctx, t); err != nil {
		return Trade{}, err
	}
	run.state = StatePersisted
	return t, nil
}

// reserve marks from as sending and to as receiving. Each key is marked in its own role
// first and then checked in the opposite role, so two racing requests can never both
// hold a key in both registries.
func (s *Service) reserve(ctx context.Context, from, to string) (*reservation, error) {
	res := &reservation{from: from, to: to}
	owner, ok, err := s.sending.Reserve(ctx, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSourceBusy
	}
	res.sendOwner = owner
	owner, ok, err = s.receiving.Reserve(ctx, to)
	if err != nil || !ok {
		s.releaseMark(context.WithoutCancel(ctx), s.sending, "sending", from, res.sendOwner)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w (key: %s)", ErrTargetBusy, to)
	}
	res.receiveOwner = owner

	var conflict error
	if free, err := s.receiving.IsValid(ctx, from); err != nil {
		conflict = err
	} else if !free {
		conflict = ErrSourceBusy
	}
	if conflict == nil {
		if free, err := s.sending.IsValid(ctx, to); err != nil {
			conflict = err
		} else if !free {
			conflict = fmt.Errorf("%w (key: %s)", ErrTargetBusy, to)
		}
	}
	if conflict != nil {
		s.release(ctx, res)
		return nil, conflict
	}
	return res, nil
}

// release clears both marks once the request is finished, whatever its outcome. It
// outlives the request context so a cancelled request cannot leave a player pinned busy.
func (s *Service) release(ctx context.Context, res *reservation) {
	ctx = context.WithoutCancel(ctx)
	s.releaseMark(ctx, s.sending, "sending", res.from, res.sendOwner)
	s.releaseMark(ctx, s.receiving, "receiving", res.to, res.receiveOwner)
}

func (s *Service) releaseMark(ctx context.Context, g SlotGuard, role, key, owner string) {
	if err := g.Release(ctx, key, owner); err != nil {
		s.log.Warn("guard release failed", "role", role, "key", key, "error", err)
	}
}
