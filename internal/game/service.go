package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Rules are the game-policy knobs of the trade engine.
type Rules struct {
	TradeDuration time.Duration
	// PeriodEnds closes trading once reached. Zero keeps the period open.
	PeriodEnds time.Time
	// AllowCooldownOverride honours TradeInput.Cooldown; only test environments set it.
	AllowCooldownOverride bool
}

type Service struct {
	players    PlayerStore
	bufficorns BufficornStore
	ranches    RanchStore
	trades     TradeStore

	sending   SlotGuard
	receiving SlotGuard

	verifier  TokenVerifier
	issuer    TokenIssuer
	resources *ResourceGenerator
	metrics   Recorder
	rules     Rules
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithTraitSelector(sel TraitSelector) Option {
	return func(s *Service) { s.resources = NewResourceGenerator(sel) }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithTokenIssuer(issuer TokenIssuer) Option {
	return func(s *Service) { s.issuer = issuer }
}

// NewService wires the trade engine. sending and receiving must be distinct registries.
func NewService(repos Repositories, sending, receiving SlotGuard, verifier TokenVerifier, rules Rules, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rules.TradeDuration <= 0 {
		rules.TradeDuration = DefaultTradeDuration
	}
	s := &Service{
		players:    repos.Players,
		bufficorns: repos.Bufficorns,
		ranches:    repos.Ranches,
		trades:     repos.Trades,
		sending:    sending,
		receiving:  receiving,
		verifier:   verifier,
		resources:  NewResourceGenerator(nil),
		metrics:    nopRecorder{},
		rules:      rules,
		log:        logger,
		now:        time.Now,
		newID:      newTradeID,
	}
	if issuer, ok := verifier.(TokenIssuer); ok {
		s.issuer = issuer
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current instant at millisecond precision, the resolution trades are stored at.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// PeriodClosed reports whether trading is over at now.
func (s *Service) PeriodClosed(now time.Time) bool {
	return !s.rules.PeriodEnds.IsZero() && !now.Before(s.rules.PeriodEnds)
}

func (s *Service) authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.verifier == nil {
		return "", ErrInvalidToken
	}
	key, err := s.verifier.Verify(token)
	if err != nil || key == "" {
		return "", ErrInvalidToken
	}
	return key, nil
}

// VerifiedKey returns the player key a token was issued for, without touching storage.
func (s *Service) VerifiedKey(token string) (string, error) {
	return s.authenticate(token)
}

// claimedPlayer loads the authenticated player and requires it to be claimed.
func (s *Service) claimedPlayer(ctx context.Context, token string) (Player, error) {
	key, err := s.authenticate(token)
	if err != nil {
		return Player{}, err
	}
	p, err := s.players.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Player{}, fmt.Errorf("%w (key: %s)", ErrSourceNotFound, key)
		}
		return Player{}, err
	}
	if !p.Claimed() {
		return Player{}, ErrSourceUnclaimed
	}
	return p, nil
}

// Claim marks an unclaimed player as playable and hands out its token.
func (s *Service) Claim(ctx context.Context, key, username string) (ClaimResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ClaimResult{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	if s.issuer == nil {
		return ClaimResult{}, errors.New("token issuer not configured")
	}
	p, err := s.players.Get(ctx, key)
	if err != nil {
		return ClaimResult{}, err
	}
	if p.Claimed() {
		return ClaimResult{}, ErrAlreadyClaimed
	}
	username = strings.TrimSpace(username)
	if username != "" && username != p.Username {
		if err := ValidateUsername(username); err != nil {
			return ClaimResult{}, err
		}
		if _, err := s.players.GetByUsername(ctx, username); err == nil {
			return ClaimResult{}, ErrUsernameTaken
		} else if !errors.Is(err, ErrNotFound) {
			return ClaimResult{}, err
		}
		p.Username = username
	}
	token, err := s.issuer.Issue(p.Key)
	if err != nil {
		return ClaimResult{}, err
	}
	p.Token = token
	if err := s.players.Update(ctx, p); err != nil {
		return ClaimResult{}, err
	}
	s.log.Info("player claimed", "key", p.Key, "username", p.Username)
	return ClaimResult{Key: p.Key, Username: p.Username, Token: token}, nil
}

// PlayerState returns the authenticated player's view. A token for another key is forbidden.
func (s *Service) PlayerState(ctx context.Context, token, key string) (PlayerState, error) {
	authKey, err := s.authenticate(token)
	if err != nil {
		return PlayerState{}, err
	}
	if authKey != key {
		return PlayerState{}, ErrInvalidToken
	}
	p, err := s.claimedPlayer(ctx, token)
	if err != nil {
		return PlayerState{}, err
	}
	ranch, err := s.ranchView(ctx, p.Ranch)
	if err != nil {
		return PlayerState{}, err
	}
	out := PlayerState{Player: PlayerView{
		Key:               p.Key,
		Username:          p.Username,
		Ranch:             ranch,
		Points:            p.Points,
		Medals:            nonNil(p.Medals),
		SelectedBufficorn: p.SelectedBufficorn,
		CreationIndex:     p.CreationIndex,
	}}

	now := s.clock()
	in, ok, err := s.trades.GetLast(ctx, TradeFilter{To: p.Username})
	if err != nil {
		return PlayerState{}, err
	}
	if ok {
		ts := in.Timestamp
		out.Player.LastTradeIn = &ts
		if in.IsActive(now) {
			out.TradeIn = &in
		}
	}
	outgoing, ok, err := s.trades.GetLast(ctx, TradeFilter{From: p.Username})
	if err != nil {
		return PlayerState{}, err
	}
	if ok {
		ts := outgoing.Timestamp
		out.Player.LastTradeOut = &ts
		if outgoing.IsActive(now) {
			out.TradeOut = &outgoing
		}
	}
	return out, nil
}

func (s *Service) ranchView(ctx context.Context, name string) (RanchView, error) {
	r, err := s.ranches.Get(ctx, name)
	if err != nil {
		return RanchView{}, err
	}
	all, err := s.bufficorns.GetAll(ctx)
	if err != nil {
		return RanchView{}, err
	}
	members := GroupByRanch(all)[r.Name]
	for i := range members {
		members[i].Medals = nonNil(members[i].Medals)
	}
	if members == nil {
		members = []Bufficorn{}
	}
	return RanchView{Name: r.Name, CreationIndex: r.CreationIndex, Bufficorns: members}, nil
}

// SelectBufficorn changes which bufficorn of the player's ranch receives resources.
func (s *Service) SelectBufficorn(ctx context.Context, token string, creationIndex int) (Bufficorn, error) {
	p, err := s.claimedPlayer(ctx, token)
	if err != nil {
		return Bufficorn{}, err
	}
	b, err := s.bufficorns.Get(ctx, creationIndex)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Bufficorn{}, err
	}
	if err != nil || b.Ranch != p.Ranch {
		return Bufficorn{}, fmt.Errorf("%w: Bufficorn with creationIndex %d doesn't belong to ranch %s", ErrNotFound, creationIndex, p.Ranch)
	}
	if err := s.players.SetSelectedBufficorn(ctx, p.Key, b.CreationIndex); err != nil {
		return Bufficorn{}, err
	}
	b.Medals = nonNil(b.Medals)
	return b, nil
}

// TradeHistory pages the trades the authenticated player took part in, newest first.
func (s *Service) TradeHistory(ctx context.Context, token string, limit, offset int) (TradeHistory, error) {
	p, err := s.claimedPlayer(ctx, token)
	if err != nil {
		return TradeHistory{}, err
	}
	limit, offset = ClampPage(limit, offset)
	trades, err := s.trades.GetManyByUsername(ctx, p.Username, limit, offset)
	if err != nil {
		return TradeHistory{}, err
	}
	total, err := s.trades.Count(ctx, p.Username)
	if err != nil {
		return TradeHistory{}, err
	}
	if trades == nil {
		trades = []Trade{}
	}
	return TradeHistory{Trades: trades, Total: total}, nil
}
