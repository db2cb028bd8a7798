package lobby

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunTimers drives the spawn, expire, consume and heartbeat cadences until
// ctx ends. The timers never touch game state; they post ticks into the
// inbox and the loop does the work.
func (l *Lobby) RunTimers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return l.spawnTimer(ctx) })
	g.Go(func() error { return l.ticker(ctx, l.cfg.ExpireInterval, ExpireTick{}) })
	g.Go(func() error { return l.ticker(ctx, l.cfg.ConsumeInterval, ConsumeTick{}) })
	if l.cfg.HeartbeatInterval > 0 {
		g.Go(func() error { return l.ticker(ctx, l.cfg.HeartbeatInterval, HeartbeatTick{}) })
	}
	return g.Wait()
}

func (l *Lobby) ticker(ctx context.Context, every time.Duration, tick Msg) error {
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if !l.Post(tick) {
				return nil
			}
		}
	}
}

// spawnTimer fires at uniformly random intervals in the configured range.
func (l *Lobby) spawnTimer(ctx context.Context) error {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	next := func() time.Duration {
		lo, hi := l.cfg.SpawnIntervalMin, l.cfg.SpawnIntervalMax
		if hi <= lo {
			return lo
		}
		return lo + time.Duration(rng.Int64N(int64(hi-lo)+1))
	}

	t := time.NewTimer(next())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if !l.Post(SpawnTick{}) {
				return nil
			}
			t.Reset(next())
		}
	}
}
