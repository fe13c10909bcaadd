package game

import "context"

// Stores return errors wrapping ErrNotFound for missing records. Every method is a
// single-document operation; nothing here spans documents transactionally.

type PlayerStore interface {
	Get(ctx context.Context, key string) (Player, error)
	GetByUsername(ctx context.Context, username string) (Player, error)
	GetAll(ctx context.Context) ([]Player, error)
	Update(ctx context.Context, p Player) error
	// AddPoints credits delta to one player in a single write and returns the stored row.
	AddPoints(ctx context.Context, key string, delta int64) (Player, error)
	SetSelectedBufficorn(ctx context.Context, key string, creationIndex int) error
	Create(ctx context.Context, players []Player) error
}

type BufficornStore interface {
	Get(ctx context.Context, creationIndex int) (Bufficorn, error)
	GetAll(ctx context.Context) ([]Bufficorn, error)
	// Feed grows the bufficorn with the given creation index, but only when it belongs to ranch.
	Feed(ctx context.Context, creationIndex int, ranch string, r Resource) (Bufficorn, error)
	Update(ctx context.Context, b Bufficorn) error
	Create(ctx context.Context, bufficorns []Bufficorn) error
}

type RanchStore interface {
	Get(ctx context.Context, name string) (Ranch, error)
	GetAll(ctx context.Context) ([]Ranch, error)
	Create(ctx context.Context, ranches []Ranch) error
}

type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	// GetLast returns the most recent trade matching the filter, ordered by timestamp then ends.
	GetLast(ctx context.Context, f TradeFilter) (Trade, bool, error)
	GetManyByUsername(ctx context.Context, username string, limit, offset int) ([]Trade, error)
	Count(ctx context.Context, username string) (int64, error)
}

type Repositories struct {
	Players    PlayerStore
	Bufficorns BufficornStore
	Ranches    RanchStore
	Trades     TradeStore
}

// SlotGuard is a registry of busy player keys for one trade role. The trade path only
// uses Reserve, an atomic check-and-mark that returns an owner token, and Release, which
// clears the mark only for that owner. Add and Delete are unconditional and idempotent;
// they exist for operators and tests that pin or free a key by hand.
type SlotGuard interface {
	IsValid(ctx context.Context, key string) (bool, error)
	Reserve(ctx context.Context, key string) (owner string, ok bool, err error)
	Release(ctx context.Context, key, owner string) error
	Add(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}

type TokenVerifier interface {
	Verify(token string) (string, error)
}

type TokenIssuer interface {
	Issue(key string) (string, error)
}

// Recorder receives trade telemetry.
type Recorder interface {
	TradeOutcome(outcome string)
	ResourceGenerated(r Resource)
}

type nopRecorder struct{}

func (nopRecorder) TradeOutcome(string)        {}
func (nopRecorder) ResourceGenerated(Resource) {}
