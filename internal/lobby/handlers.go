package lobby

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/internal/bubble"
	"github.com/DoyleJ11/bubble-arena/internal/hub"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

// PlayerID derives a player's identity from the connection's remote
// "host:port". It is stable for the life of the connection and nothing more.
func PlayerID(remoteAddr string) string { return remoteAddr }

func (l *Lobby) handleLogin(c hub.Conn) {
	id := PlayerID(c.RemoteAddr())

	if prev, ok := l.players[id]; ok && prev.conn.ID() != c.ID() {
		// Reconnect from the same address evicts the stale session.
		l.logger.Info("login supersedes session",
			zap.String("player", id),
			zap.String("old_session", prev.conn.ID()),
			zap.String("new_session", c.ID()),
		)
		delete(l.bySession, prev.conn.ID())
		l.hub.Remove(prev.conn.ID())
		if err := prev.conn.Close(); err != nil {
			l.logger.Debug("closing superseded session", zap.String("session", prev.conn.ID()), zap.Error(err))
		}
		l.registry.ReleasePlayer(id)
	}

	// A session that logs in again under a new address drops its old identity.
	if old, ok := l.bySession[c.ID()]; ok && old != id {
		delete(l.players, old)
		l.registry.ReleasePlayer(old)
	}

	l.players[id] = &player{id: id, conn: c}
	l.bySession[c.ID()] = id
	l.logger.Info("player logged in", zap.String("player", id), zap.String("session", c.ID()))
	l.send(c, protocol.Login{PlayerID: id})

	if l.cfg.SnapshotOnLogin {
		for _, b := range l.registry.Snapshot() {
			l.send(c, addedMessage(b))
			if b.Locked() {
				l.send(c, protocol.BubbleLocked{BubbleID: b.ID, PlayerID: b.LockedBy})
			}
		}
	}
}

func (l *Lobby) handleLock(c hub.Conn, m protocol.Lock) {
	id, ok := l.bySession[c.ID()]
	if !ok {
		l.logger.Warn("lock before login", zap.String("session", c.ID()), zap.Int64("bubble", m.BubbleID))
		return
	}
	if m.PlayerID != "" && m.PlayerID != id {
		l.logger.Debug("ignoring claimed player id", zap.String("claimed", m.PlayerID), zap.String("player", id))
	}
	l.registry.TryLock(m.BubbleID, id)
}

func (l *Lobby) handleStatus(c hub.Conn) {
	players := make(map[string]protocol.PlayerStatus, len(l.players))
	for id, p := range l.players {
		players[id] = protocol.PlayerStatus{Score: p.score}
	}
	l.send(c, protocol.Status{Players: players})
}

func (l *Lobby) handleLeave(c hub.Conn) {
	l.hub.Remove(c.ID())

	id, ok := l.bySession[c.ID()]
	if !ok {
		return
	}
	delete(l.bySession, c.ID())
	if p, ok := l.players[id]; ok && p.conn.ID() == c.ID() {
		delete(l.players, id)
		l.registry.ReleasePlayer(id)
		l.logger.Info("player left", zap.String("player", id), zap.Int("score", p.score))
	}
}

func (l *Lobby) award(id string, b bubble.Bubble) {
	p, ok := l.players[id]
	if !ok {
		return
	}
	before := p.score
	p.score += b.Value

	if l.cfg.WinScore > 0 && before < l.cfg.WinScore && p.score >= l.cfg.WinScore {
		l.logger.Info("game over", zap.String("winner", id), zap.Int("score", p.score))
		l.broadcast(protocol.GameOver{Winner: id})
	}
}

func addedMessage(b bubble.Bubble) protocol.BubbleAdded {
	return protocol.BubbleAdded{
		ID:       b.ID,
		Position: b.Position,
		Radius:   b.Radius,
		Color:    b.Color,
		Value:    b.Value,
		HoldTime: b.Hold.Seconds(),
	}
}

// observer turns registry transitions into client messages. It runs on the
// loop goroutine because only the loop drives the registry.
type observer struct{ l *Lobby }

func (o observer) OnBubbleAdded(b bubble.Bubble) {
	o.l.broadcast(addedMessage(b))
}

func (o observer) OnBubbleExpired(b bubble.Bubble) {
	o.l.broadcast(protocol.BubbleExpired{BubbleID: b.ID})
}

func (o observer) OnBubbleLocked(b bubble.Bubble) {
	o.l.broadcast(protocol.BubbleLocked{BubbleID: b.ID, PlayerID: b.LockedBy})
}

func (o observer) OnBubbleLockFailed(b bubble.Bubble, playerID string) {
	if p, ok := o.l.players[playerID]; ok {
		o.l.send(p.conn, protocol.BubbleLockFailed{BubbleID: b.ID})
	}
}

func (o observer) OnBubbleConsumed(playerID string, b bubble.Bubble) {
	o.l.broadcast(protocol.BubbleConsumed{BubbleID: b.ID, PlayerID: playerID, Value: b.Value})
	o.l.award(playerID, b)
}
