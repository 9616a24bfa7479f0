// Package turn implements the rotation state machine that decides which
// battle participant may act.
package turn

import "slices"

// Phase is the coarse state of a battle's rotation.
type Phase int

const (
	// WaitingForPlayers holds while fewer than the minimum number of
	// participants are in the rotation. Nobody holds the turn.
	WaitingForPlayers Phase = iota
	// PlayerTurn holds while the rotation is running. Active() names the
	// holder, or is empty when no participant is currently eligible.
	PlayerTurn
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case WaitingForPlayers:
		return "waiting_for_players"
	case PlayerTurn:
		return "player_turn"
	default:
		return "unknown"
	}
}

// Eligible reports whether a participant may be handed the turn.
// Typically false for fallen or disconnected participants.
type Eligible func(id string) bool

// Machine tracks turn order and the active participant.
//
// Machine is not safe for concurrent use; it is owned by the battle's
// processing loop.
//
// Invariant: phase == WaitingForPlayers implies active == "".
// Invariant: active == "" or active is an element of order.
type Machine struct {
	minPlayers int
	order      []string
	active     string
	phase      Phase
}

// New returns a Machine that starts the rotation once minPlayers
// participants have been added.
//
// Precondition: minPlayers >= 1; values below 1 are treated as 1.
// Postcondition: Phase() == WaitingForPlayers and Order() is empty.
func New(minPlayers int) *Machine {
	if minPlayers < 1 {
		minPlayers = 1
	}
	return &Machine{minPlayers: minPlayers}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Active returns the id of the participant holding the turn, or "".
func (m *Machine) Active() string { return m.active }

// MinPlayers returns the participant count needed to run the rotation.
func (m *Machine) MinPlayers() int { return m.minPlayers }

// Order returns a copy of the rotation order.
func (m *Machine) Order() []string {
	return slices.Clone(m.order)
}

// Contains reports whether id is part of the rotation.
func (m *Machine) Contains(id string) bool {
	return slices.Contains(m.order, id)
}

// Add appends id to the end of the rotation. A mid-battle join never takes
// the turn from the current holder. When the participant count reaches the
// minimum, the rotation starts with the first eligible entry.
//
// Precondition: id is non-empty and not already in the rotation.
// Postcondition: Contains(id); Active() is unchanged unless the rotation just started
// or was stalled with no eligible holder.
func (m *Machine) Add(id string, eligible Eligible) {
	if m.Contains(id) {
		return
	}
	m.order = append(m.order, id)
	switch {
	case m.phase == WaitingForPlayers && len(m.order) >= m.minPlayers:
		m.phase = PlayerTurn
		m.active = m.firstEligible(0, eligible)
	case m.phase == PlayerTurn && m.active == "":
		m.Resume(eligible)
	}
}

// Remove drops id from the rotation. If id held the turn, the turn is
// forfeited exactly as if id had ended it. Falling below the minimum
// participant count returns the machine to WaitingForPlayers.
//
// Postcondition: !Contains(id) and Active() != id.
func (m *Machine) Remove(id string, eligible Eligible) {
	idx := slices.Index(m.order, id)
	if idx < 0 {
		return
	}
	if m.active == id {
		m.Advance(func(other string) bool {
			return other != id && eligible(other)
		})
		if m.active == id {
			m.active = ""
		}
	}
	m.order = slices.Delete(m.order, idx, idx+1)
	if len(m.order) < m.minPlayers {
		m.phase = WaitingForPlayers
		m.active = ""
	}
}

// Advance hands the turn to the next eligible participant after the current
// holder, wrapping after the last entry. The current holder is considered
// last, so a lone eligible participant keeps the turn. When nobody is
// eligible Active() becomes "".
//
// Postcondition: Phase() is unchanged; the returned id equals Active().
func (m *Machine) Advance(eligible Eligible) string {
	if m.phase != PlayerTurn || len(m.order) == 0 {
		return m.active
	}
	start := 0
	if idx := slices.Index(m.order, m.active); idx >= 0 {
		start = idx + 1
	}
	m.active = m.firstEligible(start, eligible)
	return m.active
}

// Resume assigns the turn when the rotation is running without a holder,
// e.g. after every participant fell or disconnected and one came back.
//
// Postcondition: Active() is unchanged if it was already non-empty.
func (m *Machine) Resume(eligible Eligible) string {
	if m.phase == PlayerTurn && m.active == "" {
		m.active = m.firstEligible(0, eligible)
	}
	return m.active
}

// firstEligible scans every entry once starting at start, wrapping.
func (m *Machine) firstEligible(start int, eligible Eligible) string {
	n := len(m.order)
	for i := 0; i < n; i++ {
		id := m.order[(start+i)%n]
		if eligible == nil || eligible(id) {
			return id
		}
	}
	return ""
}
