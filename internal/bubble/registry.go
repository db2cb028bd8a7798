package bubble

import (
	"math/rand/v2"
	"slices"
	"time"
)

type LockResult int

const (
	LockNoop        LockResult = iota // bubble already gone
	LockFailed                        // held by someone else
	LockAlreadyHeld                   // caller already holds it
	LockAcquired
)

func (r LockResult) String() string {
	switch r {
	case LockNoop:
		return "noop"
	case LockFailed:
		return "failed"
	case LockAlreadyHeld:
		return "already_held"
	case LockAcquired:
		return "acquired"
	}
	return "unknown"
}

// Registry owns the live bubbles and their lifecycle:
//
//	Spawned -> Locked -> Consumed
//	Spawned -> Expired
//	Locked  -> Spawned   (same player locks a different bubble)
//
// It is not safe for concurrent use; one goroutine drives every method.
type Registry struct {
	rules    Rules
	observer Observer
	now      func() time.Time
	rng      *rand.Rand

	nextID  int64
	bubbles map[int64]*Bubble
	held    map[string]int64 // player -> the one bubble they hold
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

func NewRegistry(rules Rules, observer Observer, opts ...Option) *Registry {
	if observer == nil {
		observer = NopObserver{}
	}
	r := &Registry{
		rules:    rules,
		observer: observer,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		bubbles:  make(map[int64]*Bubble),
		held:     make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Spawn() Bubble {
	r.nextID++
	value := r.randomInt(r.rules.MinValue, r.rules.MaxValue)
	radius := r.rules.RadiusFor(value)
	b := &Bubble{
		ID: r.nextID,
		Position: [2]int{
			r.randomInt(radius, r.rules.PoolWidth-radius),
			r.randomInt(radius, r.rules.PoolHeight-radius),
		},
		Radius:   radius,
		Color:    [3]int{r.rng.IntN(256), r.rng.IntN(256), r.rng.IntN(256)},
		Value:    value,
		ExpireAt: r.now().Add(r.randomDuration(r.rules.MinLifetime, r.rules.MaxLifetime)),
		Hold:     r.randomDuration(r.rules.MinHold, r.rules.MaxHold),
	}
	r.bubbles[b.ID] = b
	r.observer.OnBubbleAdded(*b)
	return *b
}

// ExpireSweep removes every unlocked bubble past its deadline. Locked bubbles
// are left to the consume sweep so a hold in progress is never lost.
func (r *Registry) ExpireSweep() int {
	now := r.now()
	var expired []int64
	for id, b := range r.bubbles {
		if b.Locked() {
			continue
		}
		if !now.Before(b.ExpireAt) {
			expired = append(expired, id)
		}
	}
	slices.Sort(expired)

	for _, id := range expired {
		b := r.bubbles[id]
		delete(r.bubbles, id)
		r.observer.OnBubbleExpired(*b)
	}
	return len(expired)
}

func (r *Registry) TryLock(bubbleID int64, playerID string) LockResult {
	b, ok := r.bubbles[bubbleID]
	if !ok || playerID == "" {
		return LockNoop
	}
	if b.Locked() {
		if b.LockedBy != playerID {
			r.observer.OnBubbleLockFailed(*b, playerID)
			return LockFailed
		}
		return LockAlreadyHeld
	}

	// One lock per player: the previous one is dropped without a notice,
	// the bubble_locked broadcast below supersedes it for clients.
	r.ReleasePlayer(playerID)

	b.LockedBy = playerID
	b.LockedAt = r.now()
	r.held[playerID] = b.ID
	r.observer.OnBubbleLocked(*b)
	return LockAcquired
}

// ConsumeSweep removes every locked bubble whose hold time has elapsed and
// reports the holder.
func (r *Registry) ConsumeSweep() int {
	now := r.now()
	var done []int64
	for _, id := range r.held {
		b := r.bubbles[id]
		if now.Sub(b.LockedAt) >= b.Hold {
			done = append(done, id)
		}
	}
	slices.Sort(done)

	for _, id := range done {
		b := r.bubbles[id]
		delete(r.bubbles, id)
		delete(r.held, b.LockedBy)
		r.observer.OnBubbleConsumed(b.LockedBy, *b)
	}
	return len(done)
}

// ReleasePlayer drops the player's lock, if any, returning the bubble to the
// spawned state.
func (r *Registry) ReleasePlayer(playerID string) {
	id, ok := r.held[playerID]
	if !ok {
		return
	}
	delete(r.held, playerID)
	if b, ok := r.bubbles[id]; ok {
		b.LockedBy = ""
		b.LockedAt = time.Time{}
	}
}

func (r *Registry) Get(id int64) (Bubble, bool) {
	b, ok := r.bubbles[id]
	if !ok {
		return Bubble{}, false
	}
	return *b, true
}

func (r *Registry) Len() int { return len(r.bubbles) }

// Snapshot returns copies of the live bubbles ordered by id.
func (r *Registry) Snapshot() []Bubble {
	out := make([]Bubble, 0, len(r.bubbles))
	for _, b := range r.bubbles {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Bubble) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// HeldBy returns the id of the bubble the player holds.
func (r *Registry) HeldBy(playerID string) (int64, bool) {
	id, ok := r.held[playerID]
	return id, ok
}
