package lobby

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/internal/bubble"
	"github.com/DoyleJ11/bubble-arena/internal/hub"
	"github.com/DoyleJ11/bubble-arena/internal/session"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

var ErrStopped = errors.New("lobby stopped")

type Config struct {
	Rules    bubble.Rules
	WinScore int

	// SnapshotOnLogin sends the live bubbles to a player right after login.
	// Off by default: late joiners only see bubbles spawned after they join.
	SnapshotOnLogin bool

	SpawnIntervalMin  time.Duration
	SpawnIntervalMax  time.Duration
	ExpireInterval    time.Duration
	ConsumeInterval   time.Duration
	HeartbeatInterval time.Duration // zero disables heartbeats

	InboxSize int
}

type player struct {
	id    string
	conn  hub.Conn // not owned; the hub and the session own the lifecycle
	score int
}

// Lobby is the single owner of game state. Every mutation of players and
// bubbles happens on its loop goroutine.
type Lobby struct {
	inbox    chan Msg
	cfg      Config
	hub      *hub.Hub
	registry *bubble.Registry
	logger   *zap.Logger
	now      func() time.Time

	players   map[string]*player
	bySession map[string]string // session id -> player id

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*options)

type options struct {
	now func() time.Time
	rng *rand.Rand
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

func NewLobby(parent context.Context, cfg Config, h *hub.Hub, logger *zap.Logger, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}

	l := &Lobby{
		inbox:     make(chan Msg, cfg.InboxSize),
		cfg:       cfg,
		hub:       h,
		logger:    logger,
		now:       o.now,
		players:   make(map[string]*player),
		bySession: make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	regOpts := []bubble.Option{bubble.WithClock(o.now)}
	if o.rng != nil {
		regOpts = append(regOpts, bubble.WithRand(o.rng))
	}
	l.registry = bubble.NewRegistry(cfg.Rules, observer{l}, regOpts...)

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			if !l.handle(m) {
				return
			}
		}
	}
}

// handle runs one work item. A panicking handler drops its message and
// leaves the loop running.
func (l *Lobby) handle(m Msg) (running bool) {
	running = true
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler fault", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	switch msg := m.(type) {
	case FromSession:
		l.dispatch(msg.Conn, msg.Message)

	case Leave:
		l.handleLeave(msg.Conn)

	case SpawnTick:
		if l.hub.Len() > 0 {
			l.registry.Spawn()
		}

	case ExpireTick:
		l.registry.ExpireSweep()

	case ConsumeTick:
		l.registry.ConsumeSweep()

	case HeartbeatTick:
		l.broadcast(protocol.Heartbeat{ServerTime: unixSeconds(l.now())})

	case GetState:
		msg.Reply <- l.view()

	case Shutdown:
		l.shutdown()
		return false
	}
	return running
}

func (l *Lobby) dispatch(c hub.Conn, m protocol.Message) {
	switch msg := m.(type) {
	case protocol.Login:
		l.handleLogin(c)
	case protocol.Ping:
		l.send(c, msg)
	case protocol.Lock:
		l.handleLock(c, msg)
	case protocol.Status:
		l.handleStatus(c)
	default:
		l.logger.Warn("unexpected client message", zap.String("session", c.ID()), zap.String("action", string(m.Action())))
	}
}

func (l *Lobby) shutdown() {
	clear(l.players)
	clear(l.bySession)
	l.cancel()
}

func (l *Lobby) view() View {
	scores := make(map[string]int, len(l.players))
	for id, p := range l.players {
		scores[id] = p.score
	}
	return View{
		Players:    scores,
		Bubbles:    l.registry.Snapshot(),
		NumClients: l.hub.Len(),
	}
}

func (l *Lobby) send(c hub.Conn, msg protocol.Message) {
	if err := c.Send(msg); err != nil {
		l.logger.Debug("send failed", zap.String("session", c.ID()), zap.String("action", string(msg.Action())), zap.Error(err))
		if errors.Is(err, session.ErrSessionClosed) {
			l.hub.Remove(c.ID())
		}
	}
}

func (l *Lobby) broadcast(msg protocol.Message) {
	if _, err := l.hub.Broadcast(msg); err != nil {
		l.logger.Error("broadcast failed", zap.String("action", string(msg.Action())), zap.Error(err))
	}
}

// Inbox exposes the queue for the server and tests.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Post queues m, waiting while the inbox is full. It reports false once the
// lobby has stopped.
func (l *Lobby) Post(m Msg) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// PostAsync queues m without blocking the caller. Close notifications use it
// because a forced close runs on the loop goroutine itself.
func (l *Lobby) PostAsync(m Msg) {
	select {
	case l.inbox <- m:
	default:
		go l.Post(m)
	}
}

// State asks the loop for a consistent copy of the game state.
func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case l.inbox <- GetState{Reply: reply}:
	case <-l.ctx.Done():
		return View{}, ErrStopped
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrStopped
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (l *Lobby) Done() <-chan struct{} { return l.done }

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
