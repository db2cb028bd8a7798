package ws

import (
	"net"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/bubble-arena/internal/session"
)

// Attacher turns a connection into a running session bound to the arena.
type Attacher interface {
	Attach(conn net.Conn, remoteAddr string) *session.Session
}

// Handler upgrades the request and carries the framed protocol over binary
// WebSocket messages. The player id is the HTTP peer's host:port, the same
// way TCP clients are identified.
func Handler(a Attacher, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}

		nc := websocket.NetConn(r.Context(), conn, websocket.MessageBinary)
		sess := a.Attach(nc, r.RemoteAddr)

		// The request context owns nc, so stay here until the session ends.
		<-sess.Done()
	}
}
