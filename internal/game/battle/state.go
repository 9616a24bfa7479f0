package battle

import (
	"slices"

	"github.com/cory-johannsen/hexbattle/internal/game/battlefield"
	"github.com/cory-johannsen/hexbattle/internal/game/hex"
	"github.com/cory-johannsen/hexbattle/internal/game/turn"
)

// State is the authoritative battle of a single channel.
//
// State is not safe for concurrent use; it is owned by the channel's
// processing loop and mutated only through a Processor.
//
// Invariant: no two players share a position, and no player stands on a
// statically blocked tile.
// Invariant: every player id is in the turn rotation and vice versa.
type State struct {
	layout  *battlefield.Layout
	static  map[hex.Coord]bool
	players map[string]*Player
	away    map[string]bool
	turns   *turn.Machine
	seq     uint64
}

// NewState creates an empty battle on layout.
//
// Precondition: layout must be non-nil and valid.
// Postcondition: the battle has no players and is waiting for minPlayers.
func NewState(layout *battlefield.Layout, minPlayers int) *State {
	return &State{
		layout:  layout,
		static:  layout.Blocked(),
		players: make(map[string]*Player),
		away:    make(map[string]bool),
		turns:   turn.New(minPlayers),
	}
}

// Layout returns the static battlefield.
func (s *State) Layout() *battlefield.Layout { return s.layout }

// Seq returns the sequence number of the last committed change.
func (s *State) Seq() uint64 { return s.seq }

// Active returns the user id holding the turn, or "".
func (s *State) Active() string { return s.turns.Active() }

// Phase returns the rotation phase.
func (s *State) Phase() turn.Phase { return s.turns.Phase() }

// Has reports whether userID is a battle member.
func (s *State) Has(userID string) bool {
	_, ok := s.players[userID]
	return ok
}

// Player returns a copy of the member with userID.
func (s *State) Player(userID string) (Player, bool) {
	p, ok := s.players[userID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players returns copies of all members in turn order.
func (s *State) Players() []Player {
	out := make([]Player, 0, len(s.players))
	for _, id := range s.turns.Order() {
		if p, ok := s.players[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Away reports whether userID is marked disconnected.
func (s *State) Away(userID string) bool { return s.away[userID] }

// HumanCount returns the number of non-NPC members.
func (s *State) HumanCount() int {
	n := 0
	for _, p := range s.players {
		if !p.IsNPC {
			n++
		}
	}
	return n
}

// Blocked reports whether c is out of play: statically blocked or occupied by
// any player, fallen or not.
func (s *State) Blocked(c hex.Coord) bool {
	if s.static[c] {
		return true
	}
	return s.occupant(c) != nil
}

func (s *State) occupant(c hex.Coord) *Player {
	for _, p := range s.players {
		if p.Position == c {
			return p
		}
	}
	return nil
}

// byUsername scans in turn order so the result never depends on map order.
func (s *State) byUsername(username string) *Player {
	for _, id := range s.turns.Order() {
		if p, ok := s.players[id]; ok && p.Username == username {
			return p
		}
	}
	return nil
}

// eligible is the turn predicate: living members that are not away.
func (s *State) eligible(id string) bool {
	p, ok := s.players[id]
	return ok && p.Alive() && !s.away[id]
}

// freeTiles lists spawnable tiles in row-major order.
func (s *State) freeTiles() []hex.Coord {
	var out []hex.Coord
	for r := 0; r < s.layout.Height; r++ {
		for q := 0; q < s.layout.Width; q++ {
			c := hex.Coord{Q: q, R: r}
			if !s.Blocked(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Snapshot is a deep copy of the full battle, safe to hand to other
// goroutines.
type Snapshot struct {
	Seq              uint64
	Width            int
	Height           int
	Players          []Player
	Obstacles        []battlefield.Obstacle
	Props            []battlefield.Prop
	Buffer           []hex.Coord
	ActiveTurnUserID string
	TurnOrder        []string
	Phase            turn.Phase
}

// Snapshot returns a deep copy of the state.
//
// Postcondition: the result shares no slices or maps with s.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Seq:              s.seq,
		Width:            s.layout.Width,
		Height:           s.layout.Height,
		Players:          s.Players(),
		Obstacles:        slices.Clone(s.layout.Obstacles),
		Props:            slices.Clone(s.layout.Props),
		Buffer:           slices.Clone(s.layout.Buffer),
		ActiveTurnUserID: s.turns.Active(),
		TurnOrder:        s.turns.Order(),
		Phase:            s.turns.Phase(),
	}
}

// Delta describes one committed change. Only changed entities are present;
// nil pointer and slice fields mean "unchanged".
type Delta struct {
	Seq              uint64
	Players          []Player
	RemovedPlayers   []string
	ActiveTurnUserID *string
	TurnOrder        []string
	Phase            *turn.Phase
}

// TurnChanged reports whether the delta moved the turn.
func (d Delta) TurnChanged() bool { return d.ActiveTurnUserID != nil }

// turnView records the rotation before a mutation so the delta can carry
// only what changed.
type turnView struct {
	active string
	order  []string
	phase  turn.Phase
}

func (s *State) viewTurn() turnView {
	return turnView{active: s.turns.Active(), order: s.turns.Order(), phase: s.turns.Phase()}
}

// commit stamps the next sequence number and assembles the delta.
func (s *State) commit(before turnView, changed []string, removed []string) Delta {
	s.seq++
	d := Delta{Seq: s.seq, RemovedPlayers: removed}
	seen := make(map[string]bool, len(changed))
	for _, id := range changed {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := s.players[id]; ok {
			d.Players = append(d.Players, *p)
		}
	}
	if active := s.turns.Active(); active != before.active {
		d.ActiveTurnUserID = &active
	}
	if order := s.turns.Order(); !slices.Equal(order, before.order) {
		d.TurnOrder = order
	}
	if phase := s.turns.Phase(); phase != before.phase {
		d.Phase = &phase
	}
	return d
}

// StepToward returns the first direction of the shortest open path from one
// tile to another. The destination is treated as open so paths can lead up
// to an occupied tile.
func (s *State) StepToward(from, to hex.Coord) (hex.Direction, bool) {
	blocked := func(c hex.Coord) bool { return c != to && s.Blocked(c) }
	return hex.FirstStep(from, to, blocked, s.layout.Width, s.layout.Height)
}
