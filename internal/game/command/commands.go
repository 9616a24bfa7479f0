// Package command provides the closed set of battle verbs, the alias registry
// used to resolve client input, and the rejection taxonomy shared with the wire
// protocol.
package command

import "github.com/cory-johannsen/hexbattle/internal/game/hex"

// Categories for organizing commands in client UIs.
const (
	CategoryMovement = "movement"
	CategoryCombat   = "combat"
	CategoryTurn     = "turn"
)

// Verb is the closed set of actions a participant can submit.
// The zero value (VerbUnknown) is intentionally invalid.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbMoveEast
	VerbMoveNorthEast
	VerbMoveNorthWest
	VerbMoveWest
	VerbMoveSouthWest
	VerbMoveSouthEast
	VerbAttack
	VerbHeal
	VerbEndTurn
)

// String returns the canonical wire name of the verb.
func (v Verb) String() string {
	switch v {
	case VerbMoveEast:
		return "move_east"
	case VerbMoveNorthEast:
		return "move_northeast"
	case VerbMoveNorthWest:
		return "move_northwest"
	case VerbMoveWest:
		return "move_west"
	case VerbMoveSouthWest:
		return "move_southwest"
	case VerbMoveSouthEast:
		return "move_southeast"
	case VerbAttack:
		return "attack"
	case VerbHeal:
		return "heal"
	case VerbEndTurn:
		return "end_turn"
	default:
		return "unknown"
	}
}

// Direction returns the hex direction of a move verb.
//
// Postcondition: ok is true iff v is one of the six move verbs.
func (v Verb) Direction() (hex.Direction, bool) {
	switch v {
	case VerbMoveEast:
		return hex.East, true
	case VerbMoveNorthEast:
		return hex.NorthEast, true
	case VerbMoveNorthWest:
		return hex.NorthWest, true
	case VerbMoveWest:
		return hex.West, true
	case VerbMoveSouthWest:
		return hex.SouthWest, true
	case VerbMoveSouthEast:
		return hex.SouthEast, true
	default:
		return 0, false
	}
}

// IsMove reports whether v is a directional move.
func (v Verb) IsMove() bool {
	_, ok := v.Direction()
	return ok
}

// MoveVerb returns the move verb for direction d.
//
// Precondition: d.Valid().
func MoveVerb(d hex.Direction) Verb {
	return VerbMoveEast + Verb(d)
}

// Command is one validated-at-the-boundary request to act in a battle.
type Command struct {
	// ActorUserID is the participant submitting the command.
	ActorUserID string
	// Verb is the requested action.
	Verb Verb
	// TargetUserID names the attack target. Either it or TargetUsername is
	// required for VerbAttack and ignored otherwise.
	TargetUserID string
	// TargetUsername names the attack target as typed by the client.
	TargetUsername string
	// Synthetic marks commands the server issues on a participant's behalf
	// (idle timeout, NPC policy).
	Synthetic bool
}

// Definition describes one verb for client UIs and alias resolution.
type Definition struct {
	// Name is the canonical command name.
	Name string `json:"name"`
	// Aliases are alternate names for this command.
	Aliases []string `json:"aliases,omitempty"`
	// Help is the short help text displayed to players.
	Help string `json:"help"`
	// Category groups the command (movement, combat, turn).
	Category string `json:"category"`
	// NeedsTarget is true when the command requires target_username.
	NeedsTarget bool `json:"needs_target"`
	// Verb is the action the command resolves to.
	Verb Verb `json:"-"`
}

// BuiltinDefinitions returns every recognized battle command.
//
// The server model is six-directional. Cardinal names such as "north" are
// deliberately not aliased: a four-direction renderer has no unambiguous
// mapping onto hex steps.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{Name: "move_east", Aliases: []string{"east", "e"}, Help: "Step one hex east", Category: CategoryMovement, Verb: VerbMoveEast},
		{Name: "move_northeast", Aliases: []string{"northeast", "ne"}, Help: "Step one hex northeast", Category: CategoryMovement, Verb: VerbMoveNorthEast},
		{Name: "move_northwest", Aliases: []string{"northwest", "nw"}, Help: "Step one hex northwest", Category: CategoryMovement, Verb: VerbMoveNorthWest},
		{Name: "move_west", Aliases: []string{"west", "w"}, Help: "Step one hex west", Category: CategoryMovement, Verb: VerbMoveWest},
		{Name: "move_southwest", Aliases: []string{"southwest", "sw"}, Help: "Step one hex southwest", Category: CategoryMovement, Verb: VerbMoveSouthWest},
		{Name: "move_southeast", Aliases: []string{"southeast", "se"}, Help: "Step one hex southeast", Category: CategoryMovement, Verb: VerbMoveSouthEast},
		{Name: "attack", Aliases: []string{"att", "hit"}, Help: "Attack an adjacent player", Category: CategoryCombat, NeedsTarget: true, Verb: VerbAttack},
		{Name: "heal", Aliases: []string{"h"}, Help: "Restore some of your own health", Category: CategoryCombat, Verb: VerbHeal},
		{Name: "end_turn", Aliases: []string{"end", "pass"}, Help: "Hand the turn to the next player", Category: CategoryTurn, Verb: VerbEndTurn},
	}
}
