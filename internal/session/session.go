package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

var ErrSessionClosed = errors.New("session closed")

// Handler is invoked on the read goroutine for every decoded message.
type Handler func(s *Session, msg protocol.Message)

type Options struct {
	Handler Handler
	// OnClose runs exactly once, on whichever goroutine closed the session.
	OnClose      func(s *Session)
	Logger       *zap.Logger
	WriteTimeout time.Duration // zero disables the write deadline
}

// Session owns one connection: a read goroutine feeding Handler and a write
// goroutine draining an unbounded FIFO of encoded frames.
type Session struct {
	id           string
	remoteAddr   string
	conn         net.Conn
	handler      Handler
	onClose      func(*Session)
	logger       *zap.Logger
	writeTimeout time.Duration

	mu     sync.Mutex // guards active and queue
	active bool
	queue  [][]byte

	wake      chan struct{}
	done      chan struct{}
	startOnce sync.Once
}

func New(conn net.Conn, remoteAddr string, opts Options) *Session {
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := opts.Handler
	if handler == nil {
		handler = func(*Session, protocol.Message) {}
	}

	id := uuid.NewString()
	return &Session{
		id:           id,
		remoteAddr:   remoteAddr,
		conn:         conn,
		handler:      handler,
		onClose:      opts.OnClose,
		logger:       logger.With(zap.String("session", id), zap.String("remote", remoteAddr)),
		writeTimeout: opts.WriteTimeout,
		active:       true,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) RemoteAddr() string    { return s.remoteAddr }
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start launches the read and write goroutines. Later calls do nothing.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.writeLoop()
		go s.readLoop()
	})
}

// Send encodes msg and queues it. It never blocks on the network.
func (s *Session) Send(msg protocol.Message) error {
	if !s.Active() {
		return ErrSessionClosed
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.SendFrame(frame)
}

// SendFrame queues an encoded frame. The caller must not modify frame
// afterwards; broadcasts share one slice across sessions.
func (s *Session) SendFrame(frame []byte) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, frame)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close deactivates the session, shuts the connection down in both
// directions and runs OnClose. Only the first call does anything.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.queue = nil
	close(s.done)
	s.mu.Unlock()

	err := s.shutdown()
	s.logger.Debug("session closed")
	if s.onClose != nil {
		s.onClose(s)
	}
	return err
}

func (s *Session) shutdown() error {
	var err error
	if hc, ok := s.conn.(interface {
		CloseRead() error
		CloseWrite() error
	}); ok {
		err = multierr.Combine(hc.CloseRead(), hc.CloseWrite())
	}
	return multierr.Append(err, s.conn.Close())
}

func (s *Session) next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || len(s.queue) == 0 {
		return nil, false
	}
	frame := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return frame, true
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			frame, ok := s.next()
			if !ok {
				break
			}
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := protocol.WriteFrame(s.conn, frame); err != nil {
				s.fault("write", err)
				_ = s.Close()
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	for {
		msg, err := protocol.Decode(s.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownAction) {
				s.logger.Warn("dropping message", zap.Error(err))
				continue
			}
			s.fault("read", err)
			_ = s.Close()
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler fault",
				zap.String("action", string(msg.Action())),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(s, msg)
}

func (s *Session) fault(direction string, err error) {
	if !s.Active() || IsExpectedCloseError(err) {
		s.logger.Debug("disconnected", zap.String("direction", direction), zap.Error(err))
		return
	}
	s.logger.Warn("session fault", zap.String("direction", direction), zap.Error(err))
}
