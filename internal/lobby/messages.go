package lobby

import (
	"github.com/DoyleJ11/bubble-arena/internal/bubble"
	"github.com/DoyleJ11/bubble-arena/internal/hub"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

type Msg interface{ isLobbyMsg() }

// FromSession carries one decoded client message.
type FromSession struct {
	Conn    hub.Conn
	Message protocol.Message
}

func (FromSession) isLobbyMsg() {}

// Leave is posted when a session closes.
type Leave struct{ Conn hub.Conn }

func (Leave) isLobbyMsg() {}

type SpawnTick struct{}

func (SpawnTick) isLobbyMsg() {}

type ExpireTick struct{}

func (ExpireTick) isLobbyMsg() {}

type ConsumeTick struct{}

func (ConsumeTick) isLobbyMsg() {}

type HeartbeatTick struct{}

func (HeartbeatTick) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	Players    map[string]int // player id -> score
	Bubbles    []bubble.Bubble
	NumClients int
}
