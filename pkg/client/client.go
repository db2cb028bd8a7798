// Package client connects to a bubble arena server and mirrors the arena
// state it hears about.
package client

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/internal/session"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

// Handler sees every server message after the client has applied it to its
// view. It runs on the connection's read goroutine.
type Handler func(msg protocol.Message)

type Options struct {
	Handler      Handler
	Logger       *zap.Logger
	WriteTimeout time.Duration
}

// Bubble is the client's view of one live bubble.
type Bubble struct {
	protocol.BubbleAdded
	LockedBy string
}

type Client struct {
	sess    *session.Session
	handler Handler

	mu        sync.Mutex
	playerID  string
	bubbles   map[int64]*Bubble
	scores    map[string]int
	winner    string
	loggedIn  chan struct{}
	loginOnce sync.Once
}

// Dial opens a TCP connection to addr and starts reading from it.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an established connection carrying framed messages.
func New(conn net.Conn, opts Options) *Client {
	c := &Client{
		handler:  opts.Handler,
		bubbles:  make(map[int64]*Bubble),
		scores:   make(map[string]int),
		loggedIn: make(chan struct{}),
	}
	c.sess = session.New(conn, conn.RemoteAddr().String(), session.Options{
		Handler:      func(_ *session.Session, msg protocol.Message) { c.receive(msg) },
		Logger:       opts.Logger,
		WriteTimeout: opts.WriteTimeout,
	})
	c.sess.Start()
	return c
}

func (c *Client) Send(msg protocol.Message) error { return c.sess.Send(msg) }

func (c *Client) Login() error { return c.Send(protocol.Login{}) }

func (c *Client) Status() error { return c.Send(protocol.Status{}) }

func (c *Client) Ping(at time.Time) error {
	return c.Send(protocol.Ping{Timestamp: float64(at.UnixNano()) / float64(time.Second)})
}

func (c *Client) Lock(bubbleID int64) error {
	return c.Send(protocol.Lock{BubbleID: bubbleID, PlayerID: c.PlayerID()})
}

func (c *Client) Close() error          { return c.sess.Close() }
func (c *Client) Done() <-chan struct{} { return c.sess.Done() }

// WaitLogin blocks until the server has assigned a player id.
func (c *Client) WaitLogin(ctx context.Context) (string, error) {
	select {
	case <-c.loggedIn:
		return c.PlayerID(), nil
	case <-c.sess.Done():
		return "", session.ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// Bubbles returns the live bubbles ordered by id.
func (c *Client) Bubbles() []Bubble {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Bubble, 0, len(c.bubbles))
	for _, b := range c.bubbles {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Bubble) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Scores is the last status reply.
func (c *Client) Scores() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.scores))
	for id, s := range c.scores {
		out[id] = s
	}
	return out
}

// Winner is the most recent game_over winner, or "".
func (c *Client) Winner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.winner
}

func (c *Client) receive(msg protocol.Message) {
	c.apply(msg)
	if c.handler != nil {
		c.handler(msg)
	}
}

func (c *Client) apply(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.Login:
		c.playerID = m.PlayerID
		c.loginOnce.Do(func() { close(c.loggedIn) })
	case protocol.BubbleAdded:
		c.bubbles[m.ID] = &Bubble{BubbleAdded: m}
	case protocol.BubbleExpired:
		delete(c.bubbles, m.BubbleID)
	case protocol.BubbleConsumed:
		delete(c.bubbles, m.BubbleID)
	case protocol.BubbleLocked:
		// A player holds one bubble at a time, so their previous lock is gone.
		for id, b := range c.bubbles {
			switch {
			case id == m.BubbleID:
				b.LockedBy = m.PlayerID
			case b.LockedBy == m.PlayerID:
				b.LockedBy = ""
			}
		}
	case protocol.Status:
		clear(c.scores)
		for id, p := range m.Players {
			c.scores[id] = p.Score
		}
	case protocol.GameOver:
		c.winner = m.Winner
	}
}
