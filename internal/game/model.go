package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultTradeDuration = 5 * time.Minute

	// Resource yield grows by one unit per YieldInterval of rest, from MinYield up to MaxYield.
	MinYield      = int64(1)
	MaxYield      = int64(60)
	YieldInterval = time.Minute

	RanchCount         = 6
	BufficornsPerRanch = 4

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

var (
	ErrPeriodClosed   = errors.New("trade period is over")
	ErrInvalidToken   = errors.New("forbidden: invalid token")
	ErrSlotConflict   = errors.New("slot conflict")
	ErrNotFound       = errors.New("not found")
	ErrUnclaimed      = errors.New("player has not been claimed yet")
	ErrCooldownActive = errors.New("cooldown still active")
	ErrGrowthRejected = errors.New("growth rejected")
	ErrSelfTrade      = errors.New("players cannot trade with themselves")
	ErrAlreadyClaimed = errors.New("player already claimed")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrInvalidInput   = errors.New("invalid input")
)

var (
	ErrSourceBusy      = fmt.Errorf("%w: players can only trade 1 player at a time", ErrSlotConflict)
	ErrTargetBusy      = fmt.Errorf("%w: target player is already trading", ErrSlotConflict)
	ErrSourceNotFound  = fmt.Errorf("%w: player does not exist", ErrNotFound)
	ErrTargetNotFound  = fmt.Errorf("%w: wrong target player", ErrNotFound)
	ErrSourceUnclaimed = fmt.Errorf("%w: player should be claimed before trade with others", ErrUnclaimed)
	ErrTargetUnclaimed = fmt.Errorf("%w: target player has not been claimed yet", ErrUnclaimed)
)

// CooldownError reports how long a source/target pair must wait before trading again.
type CooldownError struct {
	Username  string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s player needs %s to cooldown before trading with you again", e.Username, FormatRemaining(e.Remaining))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// FormatRemaining renders a cooldown for humans, rounded up to the second.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return ((d + time.Second - 1) / time.Second * time.Second).String()
}

type Trait string

const (
	TraitVigor        Trait = "vigor"
	TraitSpeed        Trait = "speed"
	TraitCoolness     Trait = "coolness"
	TraitCoat         Trait = "coat"
	TraitIntelligence Trait = "intelligence"
)

// Traits is the fixed enumeration order; selectors index into it.
var Traits = []Trait{TraitVigor, TraitSpeed, TraitCoolness, TraitCoat, TraitIntelligence}

func ParseTrait(v string) (Trait, error) {
	t := Trait(strings.ToLower(strings.TrimSpace(v)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown trait %q", ErrInvalidInput, v)
	}
	return t, nil
}

func (t Trait) Valid() bool {
	for _, known := range Traits {
		if t == known {
			return true
		}
	}
	return false
}

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

func ValidateUsername(username string) error {
	if !usernameRE.MatchString(strings.TrimSpace(username)) {
		return fmt.Errorf("%w: username must be 3-24 letters, digits or underscores", ErrInvalidInput)
	}
	return nil
}

// ClampPage applies history pagination defaults.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
