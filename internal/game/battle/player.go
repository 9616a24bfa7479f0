// Package battle owns the authoritative state of one channel's battle and the
// processor that validates and applies commands to it.
package battle

import "github.com/cory-johannsen/hexbattle/internal/game/hex"

// Player is one participant of a battle, human or NPC.
//
// Invariant: 0 <= Health <= MaxHealth.
type Player struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Position    hex.Coord `json:"position"`
	Health      int       `json:"health"`
	MaxHealth   int       `json:"max_health"`
	IsNPC       bool      `json:"is_npc"`
}

// Alive reports whether the player can still act and be attacked.
func (p *Player) Alive() bool { return p.Health > 0 }

// ApplyDamage reduces Health by amount, flooring at zero.
//
// Precondition: amount must be >= 0.
// Postcondition: Health >= 0.
func (p *Player) ApplyDamage(amount int) {
	p.Health -= amount
	if p.Health < 0 {
		p.Health = 0
	}
}

// Heal restores amount health, capped at MaxHealth.
//
// Precondition: amount must be >= 0.
// Postcondition: Health <= MaxHealth.
func (p *Player) Heal(amount int) {
	p.Health += amount
	if p.Health > p.MaxHealth {
		p.Health = p.MaxHealth
	}
}

// Identity describes a participant about to join.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	IsNPC       bool
	// MaxHealth overrides the battle default when > 0.
	MaxHealth int
}
