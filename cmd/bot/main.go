// bot plays the arena headlessly: it logs in, polls status, pings, and keeps
// grabbing a random free bubble.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/bubble-arena/internal/logging"
	"github.com/DoyleJ11/bubble-arena/pkg/client"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

type options struct {
	addr        string
	bots        int
	statusEvery time.Duration
	lockEvery   time.Duration
	duration    time.Duration
	logLevel    string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("bubble-bot", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:5555", "server TCP address")
	flagSet.IntVarP(&opts.bots, "bots", "n", 1, "number of concurrent bots")
	flagSet.DurationVar(&opts.statusEvery, "status-every", time.Second, "status and ping interval")
	flagSet.DurationVar(&opts.lockEvery, "lock-every", 700*time.Millisecond, "how often to try a new bubble")
	flagSet.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if opts.bots < 1 {
		return fmt.Errorf("--bots must be at least 1")
	}

	logger, err := logging.New(opts.logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range opts.bots {
		g.Go(func() error { return play(ctx, opts, logger.With(zap.Int("bot", i))) })
	}
	return g.Wait()
}

func play(ctx context.Context, opts options, logger *zap.Logger) error {
	c, err := client.Dial(ctx, opts.addr, client.Options{
		Logger:  logger,
		Handler: func(msg protocol.Message) { report(logger, msg) },
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Login(); err != nil {
		return err
	}
	id, err := c.WaitLogin(ctx)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("player", id))
	logger.Info("logged in")

	status := time.NewTicker(opts.statusEvery)
	defer status.Stop()
	lock := time.NewTicker(opts.lockEvery)
	defer lock.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("done", zap.Any("scores", c.Scores()))
			return nil
		case <-c.Done():
			return fmt.Errorf("bot %s: server closed the connection", id)
		case now := <-status.C:
			if err := c.Status(); err != nil {
				return err
			}
			if err := c.Ping(now); err != nil {
				return err
			}
		case <-lock.C:
			if target, ok := pickFree(c.Bubbles(), id); ok {
				if err := c.Lock(target); err != nil {
					return err
				}
			}
		}
	}
}

// pickFree chooses a random unlocked bubble, unless we already hold one.
func pickFree(bubbles []client.Bubble, self string) (int64, bool) {
	free := bubbles[:0:0]
	for _, b := range bubbles {
		if b.LockedBy == self {
			return 0, false
		}
		if b.LockedBy == "" {
			free = append(free, b)
		}
	}
	if len(free) == 0 {
		return 0, false
	}
	return free[rand.IntN(len(free))].ID, true
}

func report(logger *zap.Logger, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.BubbleConsumed:
		logger.Info("bubble consumed", zap.Int64("bubble", m.BubbleID), zap.String("by", m.PlayerID), zap.Int("value", m.Value))
	case protocol.BubbleLockFailed:
		logger.Debug("lock failed", zap.Int64("bubble", m.BubbleID))
	case protocol.GameOver:
		logger.Info("game over", zap.String("winner", m.Winner))
	case protocol.Ping:
		rtt := time.Duration((float64(time.Now().UnixNano())/float64(time.Second) - m.Timestamp) * float64(time.Second))
		logger.Debug("pong", zap.Duration("rtt", rtt))
	default:
		logger.Debug("message", zap.String("action", string(msg.Action())))
	}
}
