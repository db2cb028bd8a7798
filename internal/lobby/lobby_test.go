package lobby

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/bubble-arena/internal/bubble"
	"github.com/DoyleJ11/bubble-arena/internal/hub"
	"github.com/DoyleJ11/bubble-arena/internal/session"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testConn stands in for a session: frames are decoded back into messages
// and delivered on out.
type testConn struct {
	id      string
	addr    string
	out     chan protocol.Message
	mu      sync.Mutex
	closed  bool
	onClose func(*testConn)
}

func (c *testConn) ID() string         { return c.id }
func (c *testConn) RemoteAddr() string { return c.addr }

func (c *testConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return session.ErrSessionClosed
	}
	c.out <- msg
	return nil
}

func (c *testConn) SendFrame(frame []byte) error {
	msg, err := protocol.Decode(bytes.NewReader(frame))
	if err != nil {
		return err
	}
	return c.Send(msg)
}

func (c *testConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose(c)
	}
	return nil
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// recvMsg receives one message with a timeout so tests never hang.
func recvMsg(t *testing.T, c *testConn, within time.Duration) protocol.Message {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(within):
		t.Fatalf("%s: timed out waiting for message", c.id)
		return nil
	}
}

func expect[T protocol.Message](t *testing.T, c *testConn) T {
	t.Helper()
	msg := recvMsg(t, c, time.Second)
	got, ok := msg.(T)
	if !ok {
		var want T
		t.Fatalf("%s: want %s, got %#v", c.id, want.Action(), msg)
	}
	return got
}

func recvNone(t *testing.T, c *testConn, within time.Duration) {
	t.Helper()
	select {
	case msg := <-c.out:
		t.Fatalf("%s: expected no message within %v, got %#v", c.id, within, msg)
	case <-time.After(within):
	}
}

func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := l.State(ctx)
	require.NoError(t, err)
	return v
}

func fixedRules(value int) bubble.Rules {
	return bubble.Rules{
		PoolWidth:   800,
		PoolHeight:  600,
		MinValue:    value,
		MaxValue:    value,
		MinRadius:   10,
		MaxRadius:   20,
		MinLifetime: 5 * time.Second,
		MaxLifetime: 5 * time.Second,
		MinHold:     time.Second,
		MaxHold:     time.Second,
	}
}

type harness struct {
	lobby *Lobby
	hub   *hub.Hub
	clock *fakeClock
	next  int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := hub.NewHub(nil)
	l := NewLobby(ctx, cfg, h, nil, WithClock(clock.now), WithRand(rand.New(rand.NewPCG(7, 7))))
	return &harness{lobby: l, hub: h, clock: clock}
}

func testConfig() Config {
	return Config{Rules: fixedRules(20), WinScore: 100}
}

// connect registers a connection the way the server does, without logging in.
func (hs *harness) connect(addr string) *testConn {
	hs.next++
	c := &testConn{id: fmt.Sprintf("s%d", hs.next), addr: addr, out: make(chan protocol.Message, 256)}
	c.onClose = func(c *testConn) {
		hs.hub.Remove(c.ID())
		hs.lobby.PostAsync(Leave{Conn: c})
	}
	hs.hub.Add(c)
	return c
}

func (hs *harness) login(t *testing.T, addr string) *testConn {
	t.Helper()
	c := hs.connect(addr)
	hs.lobby.Inbox() <- FromSession{Conn: c, Message: protocol.Login{}}
	reply := expect[protocol.Login](t, c)
	require.Equal(t, addr, reply.PlayerID)
	return c
}

func (hs *harness) spawn(t *testing.T, watchers ...*testConn) protocol.BubbleAdded {
	t.Helper()
	hs.lobby.Inbox() <- SpawnTick{}
	var added protocol.BubbleAdded
	for _, c := range watchers {
		added = expect[protocol.BubbleAdded](t, c)
	}
	return added
}

func TestLobby_LoginLockConsumeStatus(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	q := hs.login(t, "10.0.0.2:5000")

	added := hs.spawn(t, p, q)
	assert.Equal(t, 20, added.Value)
	assert.Equal(t, 1.0, added.HoldTime)

	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: added.ID, PlayerID: "10.0.0.1:5000"}}
	for _, c := range []*testConn{p, q} {
		locked := expect[protocol.BubbleLocked](t, c)
		assert.Equal(t, protocol.BubbleLocked{BubbleID: added.ID, PlayerID: "10.0.0.1:5000"}, locked)
	}

	hs.clock.advance(time.Second)
	hs.lobby.Inbox() <- ConsumeTick{}
	for _, c := range []*testConn{p, q} {
		consumed := expect[protocol.BubbleConsumed](t, c)
		assert.Equal(t, "10.0.0.1:5000", consumed.PlayerID)
		assert.Equal(t, added.ID, consumed.BubbleID)
	}

	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Status{}}
	status := expect[protocol.Status](t, p)
	assert.Equal(t, map[string]protocol.PlayerStatus{
		"10.0.0.1:5000": {Score: 20},
		"10.0.0.2:5000": {Score: 0},
	}, status.Players)
	recvNone(t, q, 50*time.Millisecond)
}

func TestLobby_PingEchoes(t *testing.T) {
	hs := newHarness(t, testConfig())
	c := hs.connect("10.0.0.1:5000")

	hs.lobby.Inbox() <- FromSession{Conn: c, Message: protocol.Ping{Timestamp: 1712345678.5}}
	assert.Equal(t, protocol.Ping{Timestamp: 1712345678.5}, expect[protocol.Ping](t, c))
}

func TestLobby_ConcurrentLockOneWinner(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	q := hs.login(t, "10.0.0.2:5000")
	added := hs.spawn(t, p, q)

	var wg sync.WaitGroup
	for _, c := range []*testConn{p, q} {
		wg.Add(1)
		go func(c *testConn) {
			defer wg.Done()
			hs.lobby.Inbox() <- FromSession{Conn: c, Message: protocol.Lock{BubbleID: added.ID}}
		}(c)
	}
	wg.Wait()

	view := recvView(t, hs.lobby)
	require.Len(t, view.Bubbles, 1)
	owner := view.Bubbles[0].LockedBy
	require.Contains(t, []string{p.addr, q.addr}, owner)

	winner, loser := p, q
	if owner == q.addr {
		winner, loser = q, p
	}

	assert.Equal(t, protocol.BubbleLocked{BubbleID: added.ID, PlayerID: owner}, expect[protocol.BubbleLocked](t, winner))
	assert.Equal(t, protocol.BubbleLocked{BubbleID: added.ID, PlayerID: owner}, expect[protocol.BubbleLocked](t, loser))
	assert.Equal(t, protocol.BubbleLockFailed{BubbleID: added.ID}, expect[protocol.BubbleLockFailed](t, loser))
	recvNone(t, winner, 50*time.Millisecond)
	recvNone(t, loser, 50*time.Millisecond)
}

func TestLobby_RelockOwnBubbleIsQuiet(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	added := hs.spawn(t, p)

	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: added.ID}}
	expect[protocol.BubbleLocked](t, p)
	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: added.ID}}
	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: 9999}}
	recvNone(t, p, 50*time.Millisecond)
}

func TestLobby_LockBeforeLoginIgnored(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	anon := hs.connect("10.0.0.9:5000")
	added := hs.spawn(t, p, anon)

	hs.lobby.Inbox() <- FromSession{Conn: anon, Message: protocol.Lock{BubbleID: added.ID, PlayerID: "10.0.0.1:5000"}}

	view := recvView(t, hs.lobby)
	require.Len(t, view.Bubbles, 1)
	assert.False(t, view.Bubbles[0].Locked())
	recvNone(t, anon, 50*time.Millisecond)
}

func TestLobby_GameOverOnceAndKeepsServing(t *testing.T) {
	cfg := testConfig()
	cfg.WinScore = 40
	hs := newHarness(t, cfg)
	p := hs.login(t, "10.0.0.1:5000")

	gameOvers := 0
	for i := 0; i < 3; i++ {
		added := hs.spawn(t, p)
		hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: added.ID}}
		expect[protocol.BubbleLocked](t, p)

		hs.clock.advance(time.Second)
		hs.lobby.Inbox() <- ConsumeTick{}
		expect[protocol.BubbleConsumed](t, p)

		if i == 1 {
			over := expect[protocol.GameOver](t, p)
			assert.Equal(t, "10.0.0.1:5000", over.Winner)
			gameOvers++
		}
	}
	recvNone(t, p, 50*time.Millisecond)
	assert.Equal(t, 1, gameOvers)

	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Ping{Timestamp: 2}}
	assert.Equal(t, protocol.Ping{Timestamp: 2}, expect[protocol.Ping](t, p))
	assert.Equal(t, 60, recvView(t, hs.lobby).Players["10.0.0.1:5000"])
}

func TestLobby_ExpireBroadcast(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	added := hs.spawn(t, p)

	hs.clock.advance(5 * time.Second)
	hs.lobby.Inbox() <- ExpireTick{}

	assert.Equal(t, protocol.BubbleExpired{BubbleID: added.ID}, expect[protocol.BubbleExpired](t, p))
	assert.Empty(t, recvView(t, hs.lobby).Bubbles)
}

func TestLobby_SpawnNeedsAConnection(t *testing.T) {
	hs := newHarness(t, testConfig())

	hs.lobby.Inbox() <- SpawnTick{}
	assert.Empty(t, recvView(t, hs.lobby).Bubbles)

	c := hs.connect("10.0.0.1:5000")
	hs.spawn(t, c)
	assert.Len(t, recvView(t, hs.lobby).Bubbles, 1)
}

func TestLobby_ReconnectSupersedesOldSession(t *testing.T) {
	hs := newHarness(t, testConfig())
	old := hs.login(t, "10.0.0.1:5000")
	added := hs.spawn(t, old)
	hs.lobby.Inbox() <- FromSession{Conn: old, Message: protocol.Lock{BubbleID: added.ID}}
	expect[protocol.BubbleLocked](t, old)

	fresh := hs.login(t, "10.0.0.1:5000")

	assert.True(t, old.isClosed())
	_, ok := hs.hub.Get(old.ID())
	assert.False(t, ok)

	view := recvView(t, hs.lobby)
	assert.Equal(t, map[string]int{"10.0.0.1:5000": 0}, view.Players)
	assert.Equal(t, 1, view.NumClients)
	require.Len(t, view.Bubbles, 1)
	assert.False(t, view.Bubbles[0].Locked())

	// The superseded session's late Leave must not unbind the new one.
	hs.lobby.Inbox() <- Leave{Conn: old}
	hs.lobby.Inbox() <- FromSession{Conn: fresh, Message: protocol.Status{}}
	status := expect[protocol.Status](t, fresh)
	assert.Contains(t, status.Players, "10.0.0.1:5000")
}

func TestLobby_LeaveRemovesPlayerAndLock(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	q := hs.login(t, "10.0.0.2:5000")
	added := hs.spawn(t, p, q)
	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: added.ID}}
	expect[protocol.BubbleLocked](t, p)
	expect[protocol.BubbleLocked](t, q)

	require.NoError(t, p.Close())

	require.Eventually(t, func() bool {
		v, err := hs.lobby.State(context.Background())
		return err == nil && len(v.Players) == 1 && len(v.Bubbles) == 1 && !v.Bubbles[0].Locked()
	}, time.Second, 10*time.Millisecond)

	hs.lobby.Inbox() <- FromSession{Conn: q, Message: protocol.Lock{BubbleID: added.ID}}
	assert.Equal(t, q.addr, expect[protocol.BubbleLocked](t, q).PlayerID)
}

func TestLobby_BroadcastEvictsClosedConnections(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	dead := hs.connect("10.0.0.2:5000")
	dead.onClose = nil // closed without telling anyone
	require.NoError(t, dead.Close())

	hs.spawn(t, p)
	assert.Equal(t, 1, recvView(t, hs.lobby).NumClients)
}

func TestLobby_HandlerFaultKeepsLoopRunning(t *testing.T) {
	hs := newHarness(t, testConfig())
	c := hs.connect("10.0.0.1:5000")

	hs.lobby.Inbox() <- FromSession{Conn: nil, Message: protocol.Status{}}
	hs.lobby.Inbox() <- FromSession{Conn: c, Message: protocol.Ping{Timestamp: 5}}

	assert.Equal(t, protocol.Ping{Timestamp: 5}, expect[protocol.Ping](t, c))
}

func TestLobby_SnapshotOnLogin(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotOnLogin = true
	hs := newHarness(t, cfg)
	p := hs.login(t, "10.0.0.1:5000")
	added := hs.spawn(t, p)
	hs.lobby.Inbox() <- FromSession{Conn: p, Message: protocol.Lock{BubbleID: added.ID}}
	expect[protocol.BubbleLocked](t, p)

	late := hs.login(t, "10.0.0.2:5000")
	assert.Equal(t, added, expect[protocol.BubbleAdded](t, late))
	assert.Equal(t, protocol.BubbleLocked{BubbleID: added.ID, PlayerID: p.addr}, expect[protocol.BubbleLocked](t, late))
}

func TestLobby_NoSnapshotByDefault(t *testing.T) {
	hs := newHarness(t, testConfig())
	p := hs.login(t, "10.0.0.1:5000")
	hs.spawn(t, p)

	late := hs.login(t, "10.0.0.2:5000")
	recvNone(t, late, 50*time.Millisecond)
}

func TestLobby_Heartbeat(t *testing.T) {
	hs := newHarness(t, testConfig())
	c := hs.connect("10.0.0.1:5000")

	hs.lobby.Inbox() <- HeartbeatTick{}
	hb := expect[protocol.Heartbeat](t, c)
	assert.Equal(t, float64(hs.clock.now().Unix()), hb.ServerTime)
}

func TestLobby_RunTimersSpawns(t *testing.T) {
	cfg := testConfig()
	cfg.SpawnIntervalMin = 5 * time.Millisecond
	cfg.SpawnIntervalMax = 10 * time.Millisecond
	cfg.ExpireInterval = 5 * time.Millisecond
	cfg.ConsumeInterval = 5 * time.Millisecond
	hs := newHarness(t, cfg)
	c := hs.connect("10.0.0.1:5000")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hs.lobby.RunTimers(ctx) }()

	expect[protocol.BubbleAdded](t, c)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("timers did not stop")
	}
}

func TestLobby_ShutdownStopsLoop(t *testing.T) {
	hs := newHarness(t, testConfig())
	hs.lobby.Inbox() <- Shutdown{}

	select {
	case <-hs.lobby.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby did not stop")
	}
	_, err := hs.lobby.State(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, hs.lobby.Post(SpawnTick{}))
}
