package hub

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

// Conn is the part of a session the hub and lobby need.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(msg protocol.Message) error
	SendFrame(frame []byte) error
	Close() error
}

// Hub is the table of live connections. The accept loop adds, close
// notifications and the dispatcher remove, broadcasts read.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("client connected", zap.String("session", c.ID()), zap.String("remote", c.RemoteAddr()), zap.Int("clients", count))
}

// Remove reports whether id was present.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	count := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.logger.Info("client disconnected", zap.String("session", id), zap.Int("clients", count))
	}
	return ok
}

func (h *Hub) Get(id string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Snapshot() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast encodes msg once and queues it on every live connection.
// Connections that refuse the frame are dropped from the table; the rest
// still receive it.
func (h *Hub) Broadcast(msg protocol.Message) (int, error) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, c := range h.Snapshot() {
		if err := c.SendFrame(frame); err != nil {
			h.logger.Debug("evicting connection", zap.String("session", c.ID()), zap.Error(err))
			h.Remove(c.ID())
			continue
		}
		delivered++
	}
	return delivered, nil
}

// CloseAll closes every connection in the table.
func (h *Hub) CloseAll() error {
	var err error
	for _, c := range h.Snapshot() {
		err = multierr.Append(err, c.Close())
	}
	return err
}
