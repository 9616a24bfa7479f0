// Package battlefield defines the static terrain of a battle: map dimensions,
// obstacles, props, buffer framing and the NPC roster, together with the YAML
// layout loader.
package battlefield

import (
	"fmt"

	"github.com/cory-johannsen/hexbattle/internal/game/hex"
)

// ObstacleType enumerates impassable terrain features.
type ObstacleType string

const (
	ObstacleRock  ObstacleType = "rock"
	ObstacleTree  ObstacleType = "tree"
	ObstacleWall  ObstacleType = "wall"
	ObstacleWater ObstacleType = "water"
)

// Valid reports whether t is a known obstacle type.
func (t ObstacleType) Valid() bool {
	switch t {
	case ObstacleRock, ObstacleTree, ObstacleWall, ObstacleWater:
		return true
	default:
		return false
	}
}

// Obstacle is terrain that always blocks its tile.
type Obstacle struct {
	Position hex.Coord    `json:"position"`
	Type     ObstacleType `json:"type"`
}

// Prop is a battlefield decoration. Blocking props prevent occupation.
type Prop struct {
	Position   hex.Coord `json:"position"`
	Type       string    `json:"type"`
	IsBlocking bool      `json:"is_blocking"`
}

// NPCSpec declares a computer-controlled participant spawned with the battle.
type NPCSpec struct {
	Username    string
	DisplayName string
	MaxHealth   int
}

// Layout is the immutable static description of a battlefield.
type Layout struct {
	// ID uniquely identifies the layout.
	ID string
	// Name is the display name of the layout.
	Name string
	// Width is the number of columns (q axis).
	Width int
	// Height is the number of rows (r axis).
	Height int
	// Obstacles lists impassable terrain.
	Obstacles []Obstacle
	// Props lists decorations, blocking or not.
	Props []Prop
	// Buffer lists the framing tiles nobody may occupy.
	Buffer []hex.Coord
	// NPCs lists computer-controlled participants.
	NPCs []NPCSpec
}

// Open returns a featureless layout of the given size.
//
// Precondition: width and height must be > 0.
func Open(id string, width, height int) *Layout {
	return &Layout{ID: id, Name: id, Width: width, Height: height}
}

// EdgeTiles returns every tile on the perimeter of a width x height map,
// in row-major order.
func EdgeTiles(width, height int) []hex.Coord {
	var out []hex.Coord
	for r := 0; r < height; r++ {
		for q := 0; q < width; q++ {
			if q == 0 || r == 0 || q == width-1 || r == height-1 {
				out = append(out, hex.Coord{Q: q, R: r})
			}
		}
	}
	return out
}

// Blocked returns the set of tiles no participant may ever occupy:
// obstacles, blocking props and buffer tiles.
//
// Postcondition: the returned map is freshly allocated.
func (l *Layout) Blocked() map[hex.Coord]bool {
	out := make(map[hex.Coord]bool, len(l.Obstacles)+len(l.Props)+len(l.Buffer))
	for _, o := range l.Obstacles {
		out[o.Position] = true
	}
	for _, p := range l.Props {
		if p.IsBlocking {
			out[p.Position] = true
		}
	}
	for _, b := range l.Buffer {
		out[b] = true
	}
	return out
}

// Validate checks layout invariants.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (l *Layout) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("battlefield ID must not be empty")
	}
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("battlefield %q: dimensions must be positive, got %dx%d", l.ID, l.Width, l.Height)
	}

	// Buffer tiles may coincide with each other (edge + explicit lists), but
	// terrain features must each own a distinct tile.
	features := make(map[hex.Coord]string)
	claim := func(c hex.Coord, what string) error {
		if !hex.InBounds(c, l.Width, l.Height) {
			return fmt.Errorf("battlefield %q: %s at %s is out of bounds", l.ID, what, c)
		}
		if prev, ok := features[c]; ok {
			return fmt.Errorf("battlefield %q: %s at %s overlaps %s", l.ID, what, c, prev)
		}
		features[c] = what
		return nil
	}
	for _, o := range l.Obstacles {
		if !o.Type.Valid() {
			return fmt.Errorf("battlefield %q: obstacle at %s has unknown type %q", l.ID, o.Position, o.Type)
		}
		if err := claim(o.Position, "obstacle"); err != nil {
			return err
		}
	}
	for _, p := range l.Props {
		if p.Type == "" {
			return fmt.Errorf("battlefield %q: prop at %s has empty type", l.ID, p.Position)
		}
		if err := claim(p.Position, "prop"); err != nil {
			return err
		}
	}
	for _, b := range l.Buffer {
		if !hex.InBounds(b, l.Width, l.Height) {
			return fmt.Errorf("battlefield %q: buffer tile %s is out of bounds", l.ID, b)
		}
	}

	names := make(map[string]bool, len(l.NPCs))
	for _, n := range l.NPCs {
		if n.Username == "" {
			return fmt.Errorf("battlefield %q: npc username must not be empty", l.ID)
		}
		if names[n.Username] {
			return fmt.Errorf("battlefield %q: duplicate npc username %q", l.ID, n.Username)
		}
		names[n.Username] = true
		if n.MaxHealth < 0 {
			return fmt.Errorf("battlefield %q: npc %q max_health must be >= 0", l.ID, n.Username)
		}
	}
	return nil
}
