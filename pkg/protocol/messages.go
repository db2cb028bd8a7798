package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidPayload = errors.New("invalid payload")
var ErrUnknownAction = errors.New("unknown action")

type Action string

const (
	// Client -> Server (login, ping and status are also the replies)
	ActionLogin  Action = "login"
	ActionPing   Action = "ping"
	ActionLock   Action = "lock"
	ActionStatus Action = "status"

	// Server -> Client
	ActionBubbleAdded      Action = "bubble_added"
	ActionBubbleExpired    Action = "bubble_expired"
	ActionBubbleLocked     Action = "bubble_locked"
	ActionBubbleLockFailed Action = "bubble_lock_failed"
	ActionBubbleConsumed   Action = "bubble_consumed"
	ActionGameOver         Action = "game_over"
	ActionHeartbeat        Action = "heartbeat"
)

// Message is the closed set of records carried in a frame. Each variant is
// selected on the wire by its "action" field.
type Message interface {
	Action() Action
	isMessage()
}

// Login is sent empty by the client; the server replies with the assigned id.
type Login struct {
	PlayerID string `json:"player_id,omitempty"`
}

type Ping struct {
	Timestamp float64 `json:"timestamp"`
}

type Lock struct {
	BubbleID int64  `json:"bubble_id"`
	PlayerID string `json:"player_id,omitempty"`
}

// Status is empty as a request; the reply carries every player's score.
type Status struct {
	Players map[string]PlayerStatus `json:"players,omitempty"`
}

type PlayerStatus struct {
	Score int `json:"score"`
}

type BubbleAdded struct {
	ID       int64   `json:"id"`
	Position [2]int  `json:"position"`
	Radius   int     `json:"radius"`
	Color    [3]int  `json:"color"`
	Value    int     `json:"value"`
	HoldTime float64 `json:"hold_time"` // seconds
}

type BubbleExpired struct {
	BubbleID int64 `json:"bubble_id"`
}

type BubbleLocked struct {
	BubbleID int64  `json:"bubble_id"`
	PlayerID string `json:"player_id"`
}

type BubbleLockFailed struct {
	BubbleID int64 `json:"bubble_id"`
}

type BubbleConsumed struct {
	BubbleID int64  `json:"bubble_id"`
	PlayerID string `json:"player_id"`
	Value    int    `json:"value,omitempty"`
}

type GameOver struct {
	Winner string `json:"winner"`
}

type Heartbeat struct {
	ServerTime float64 `json:"server_time"`
}

func (Login) Action() Action            { return ActionLogin }
func (Ping) Action() Action             { return ActionPing }
func (Lock) Action() Action             { return ActionLock }
func (Status) Action() Action           { return ActionStatus }
func (BubbleAdded) Action() Action      { return ActionBubbleAdded }
func (BubbleExpired) Action() Action    { return ActionBubbleExpired }
func (BubbleLocked) Action() Action     { return ActionBubbleLocked }
func (BubbleLockFailed) Action() Action { return ActionBubbleLockFailed }
func (BubbleConsumed) Action() Action   { return ActionBubbleConsumed }
func (GameOver) Action() Action         { return ActionGameOver }
func (Heartbeat) Action() Action        { return ActionHeartbeat }

func (Login) isMessage()            {}
func (Ping) isMessage()             {}
func (Lock) isMessage()             {}
func (Status) isMessage()           {}
func (BubbleAdded) isMessage()      {}
func (BubbleExpired) isMessage()    {}
func (BubbleLocked) isMessage()     {}
func (BubbleLockFailed) isMessage() {}
func (BubbleConsumed) isMessage()   {}
func (GameOver) isMessage()         {}
func (Heartbeat) isMessage()        {}

var decoders = map[Action]func([]byte) (Message, error){
	ActionLogin:            decodeAs[Login],
	ActionPing:             decodeAs[Ping],
	ActionLock:             decodeAs[Lock],
	ActionStatus:           decodeAs[Status],
	ActionBubbleAdded:      decodeAs[BubbleAdded],
	ActionBubbleExpired:    decodeAs[BubbleExpired],
	ActionBubbleLocked:     decodeAs[BubbleLocked],
	ActionBubbleLockFailed: decodeAs[BubbleLockFailed],
	ActionBubbleConsumed:   decodeAs[BubbleConsumed],
	ActionGameOver:         decodeAs[GameOver],
	ActionHeartbeat:        decodeAs[Heartbeat],
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal renders msg as a flat JSON object with its "action" field set.
func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("marshal: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Action(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Action(), err)
	}
	action, _ := json.Marshal(msg.Action())
	fields["action"] = action
	return json.Marshal(fields)
}

// Unmarshal parses a payload into the variant named by its "action" field.
func Unmarshal(payload []byte) (Message, error) {
	var header struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if header.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrInvalidPayload)
	}
	decode, ok := decoders[header.Action]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, header.Action)
	}
	msg, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, header.Action, err)
	}
	return msg, nil
}
