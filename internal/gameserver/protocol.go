package gameserver

import (
	"encoding/json"
	"errors"

	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/battlefield"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/hex"
)

// Wire message types.
const (
	TypeGameAction      = "game_action"
	TypeSnapshotRequest = "game_snapshot_request"
	TypeGameSnapshot    = "game_snapshot"
	TypeStateUpdate     = "game_state_update"
	TypeActionResult    = "action_result"
)

// ClientMessage is the closed set of messages a client may send.
type ClientMessage interface {
	// Channel returns the channel the message addresses.
	Channel() string
	clientMessage()
}

// GameAction asks to perform a command on the caller's behalf.
type GameAction struct {
	ChannelID      string
	Command        string
	TargetUsername string
}

// SnapshotRequest asks for a fresh full snapshot.
type SnapshotRequest struct {
	ChannelID string
}

func (m GameAction) Channel() string      { return m.ChannelID }
func (m SnapshotRequest) Channel() string { return m.ChannelID }
func (GameAction) clientMessage()         {}
func (SnapshotRequest) clientMessage()    {}

type clientEnvelope struct {
	Type           string `json:"type"`
	ChannelID      string `json:"channel_id"`
	Command        string `json:"command"`
	TargetUsername string `json:"target_username"`
}

// ParseClientMessage decodes one client frame.
//
// Postcondition: Returns a GameAction or SnapshotRequest, or a
// *command.Rejection of kind UnknownCommand for anything else.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, command.Reject(command.UnknownCommand, "malformed message")
	}
	switch env.Type {
	case TypeGameAction:
		if env.Command == "" {
			return nil, command.Reject(command.UnknownCommand, "game_action requires a command")
		}
		return GameAction{ChannelID: env.ChannelID, Command: env.Command, TargetUsername: env.TargetUsername}, nil
	case TypeSnapshotRequest:
		return SnapshotRequest{ChannelID: env.ChannelID}, nil
	default:
		return nil, command.Reject(command.UnknownCommand, "unknown message type %q", env.Type)
	}
}

// MapInfo carries the battlefield dimensions.
type MapInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BufferInfo lists the framing tiles.
type BufferInfo struct {
	Tiles []hex.Coord `json:"tiles"`
}

// BattlefieldInfo carries props and buffer framing.
type BattlefieldInfo struct {
	Props  []battlefield.Prop `json:"props"`
	Buffer BufferInfo         `json:"buffer"`
}

// SnapshotMessage is the full battle state sent on (re)subscribe.
type SnapshotMessage struct {
	Type             string                 `json:"type"`
	ChannelID        string                 `json:"channel_id"`
	Seq              uint64                 `json:"seq"`
	Map              MapInfo                `json:"map"`
	Players          []battle.Player        `json:"players"`
	Obstacles        []battlefield.Obstacle `json:"obstacles"`
	Battlefield      BattlefieldInfo        `json:"battlefield"`
	ActiveTurnUserID *string                `json:"active_turn_user_id"`
	TurnOrder        []string               `json:"turn_order"`
	Phase            string                 `json:"phase"`
}

// NewSnapshotMessage converts a battle snapshot into its wire form. Empty
// collections are sent as [] and a missing turn holder as null.
func NewSnapshotMessage(channelID string, s battle.Snapshot) SnapshotMessage {
	msg := SnapshotMessage{
		Type:      TypeGameSnapshot,
		ChannelID: channelID,
		Seq:       s.Seq,
		Map:       MapInfo{Width: s.Width, Height: s.Height},
		Players:   nonNil(s.Players),
		Obstacles: nonNil(s.Obstacles),
		Battlefield: BattlefieldInfo{
			Props:  nonNil(s.Props),
			Buffer: BufferInfo{Tiles: nonNil(s.Buffer)},
		},
		TurnOrder: nonNil(s.TurnOrder),
		Phase:     s.Phase.String(),
	}
	if s.ActiveTurnUserID != "" {
		active := s.ActiveTurnUserID
		msg.ActiveTurnUserID = &active
	}
	return msg
}

// StateUpdateMessage is one committed change. Absent fields are unchanged;
// an empty active_turn_user_id means nobody holds the turn.
type StateUpdateMessage struct {
	Type             string          `json:"type"`
	ChannelID        string          `json:"channel_id"`
	Seq              uint64          `json:"seq"`
	Players          []battle.Player `json:"players,omitempty"`
	RemovedPlayers   []string        `json:"removed_players,omitempty"`
	ActiveTurnUserID *string         `json:"active_turn_user_id,omitempty"`
	TurnOrder        []string        `json:"turn_order,omitempty"`
	Phase            string          `json:"phase,omitempty"`
}

// NewStateUpdateMessage converts a battle delta into its wire form.
func NewStateUpdateMessage(channelID string, d battle.Delta) StateUpdateMessage {
	msg := StateUpdateMessage{
		Type:             TypeStateUpdate,
		ChannelID:        channelID,
		Seq:              d.Seq,
		Players:          d.Players,
		RemovedPlayers:   d.RemovedPlayers,
		ActiveTurnUserID: d.ActiveTurnUserID,
		TurnOrder:        d.TurnOrder,
	}
	if d.Phase != nil {
		msg.Phase = d.Phase.String()
	}
	return msg
}

// ActionResultMessage tells the issuer whether its action was accepted.
type ActionResultMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewActionResult builds the issuer reply for res / err. err, when non-nil,
// should be a *command.Rejection; any other error is reported without a kind.
func NewActionResult(channelID string, res battle.Result, err error) ActionResultMessage {
	msg := ActionResultMessage{Type: TypeActionResult, ChannelID: channelID}
	if err == nil {
		msg.Success = true
		msg.Message = res.Message
		return msg
	}
	var rej *command.Rejection
	if errors.As(err, &rej) {
		msg.Error = string(rej.Kind)
		msg.Message = rej.Message
		return msg
	}
	msg.Message = err.Error()
	return msg
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
