package bubble

import (
	"errors"
	"time"
)

var ErrInvalidRules = errors.New("invalid bubble rules")

type Bubble struct {
	ID       int64
	Position [2]int
	Radius   int
	Color    [3]int
	Value    int
	ExpireAt time.Time
	Hold     time.Duration

	LockedBy string    // "" while unlocked
	LockedAt time.Time // zero while unlocked
}

func (b Bubble) Locked() bool { return b.LockedBy != "" }

// Rules are the process-wide spawn parameters. Ranges are inclusive.
type Rules struct {
	PoolWidth   int
	PoolHeight  int
	MinValue    int
	MaxValue    int
	MinRadius   int
	MaxRadius   int
	MinLifetime time.Duration
	MaxLifetime time.Duration
	MinHold     time.Duration
	MaxHold     time.Duration
}

func (r Rules) Validate() error {
	switch {
	case r.MinValue < 1 || r.MaxValue < r.MinValue:
		return errors.Join(ErrInvalidRules, errors.New("value range"))
	case r.MinRadius < 1 || r.MaxRadius < r.MinRadius:
		return errors.Join(ErrInvalidRules, errors.New("radius range"))
	case r.PoolWidth < 2*r.MaxRadius || r.PoolHeight < 2*r.MaxRadius:
		return errors.Join(ErrInvalidRules, errors.New("pool smaller than largest bubble"))
	case r.MinLifetime <= 0 || r.MaxLifetime < r.MinLifetime:
		return errors.Join(ErrInvalidRules, errors.New("lifetime range"))
	case r.MinHold <= 0 || r.MaxHold < r.MinHold:
		return errors.Join(ErrInvalidRules, errors.New("hold range"))
	}
	return nil
}

// RadiusFor maps a value linearly onto the radius range.
func (r Rules) RadiusFor(value int) int {
	if r.MaxValue == r.MinValue {
		return r.MinRadius
	}
	span := r.MaxRadius - r.MinRadius
	return r.MinRadius + (value-r.MinValue)*span/(r.MaxValue-r.MinValue)
}

// Observer receives every lifecycle transition. Calls happen on the goroutine
// that drives the Registry.
type Observer interface {
	OnBubbleAdded(b Bubble)
	OnBubbleExpired(b Bubble)
	OnBubbleLocked(b Bubble)
	OnBubbleLockFailed(b Bubble, playerID string)
	OnBubbleConsumed(playerID string, b Bubble)
}

type NopObserver struct{}

func (NopObserver) OnBubbleAdded(Bubble)              {}
func (NopObserver) OnBubbleExpired(Bubble)            {}
func (NopObserver) OnBubbleLocked(Bubble)             {}
func (NopObserver) OnBubbleLockFailed(Bubble, string) {}
func (NopObserver) OnBubbleConsumed(string, Bubble)   {}
