package turn_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/hexbattle/internal/game/turn"
)

func all(string) bool { return true }

func except(ids ...string) turn.Eligible {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return func(id string) bool { return !out[id] }
}

func TestMachine_WaitsForMinimum(t *testing.T) {
	m := turn.New(2)
	m.Add("a", all)
	assert.Equal(t, turn.WaitingForPlayers, m.Phase())
	assert.Empty(t, m.Active())

	m.Add("b", all)
	assert.Equal(t, turn.PlayerTurn, m.Phase())
	assert.Equal(t, "a", m.Active())
	assert.Equal(t, []string{"a", "b"}, m.Order())
}

func TestMachine_AdvanceWraps(t *testing.T) {
	m := turn.New(2)
	for _, id := range []string{"a", "b", "c"} {
		m.Add(id, all)
	}
	assert.Equal(t, "b", m.Advance(all))
	assert.Equal(t, "c", m.Advance(all))
	assert.Equal(t, "a", m.Advance(all))
}

func TestMachine_AdvanceSkipsIneligible(t *testing.T) {
	m := turn.New(2)
	for _, id := range []string{"a", "b", "c"} {
		m.Add(id, all)
	}
	assert.Equal(t, "c", m.Advance(except("b")))
	assert.Equal(t, "a", m.Advance(except("b")))
}

func TestMachine_LoneEligibleKeepsTurn(t *testing.T) {
	m := turn.New(2)
	m.Add("a", all)
	m.Add("b", all)
	assert.Equal(t, "a", m.Advance(except("b")))
}

func TestMachine_NobodyEligibleStallsThenResumes(t *testing.T) {
	m := turn.New(2)
	m.Add("a", all)
	m.Add("b", all)
	assert.Empty(t, m.Advance(except("a", "b")))
	assert.Equal(t, turn.PlayerTurn, m.Phase())

	assert.Equal(t, "b", m.Resume(except("a")))
	assert.Equal(t, "b", m.Resume(all), "resume must not move an existing holder")
}

func TestMachine_MidBattleJoinDoesNotPreempt(t *testing.T) {
	m := turn.New(2)
	m.Add("a", all)
	m.Add("b", all)
	m.Advance(all)
	require.Equal(t, "b", m.Active())

	m.Add("c", all)
	assert.Equal(t, "b", m.Active())
	assert.Equal(t, "c", m.Advance(all))
}

func TestMachine_RemoveActiveForfeits(t *testing.T) {
	m := turn.New(2)
	for _, id := range []string{"a", "b", "c"} {
		m.Add(id, all)
	}
	m.Remove("a", all)
	assert.Equal(t, "b", m.Active())
	assert.Equal(t, []string{"b", "c"}, m.Order())
}

func TestMachine_RemoveLastActiveWraps(t *testing.T) {
	m := turn.New(2)
	for _, id := range []string{"a", "b", "c"} {
		m.Add(id, all)
	}
	m.Advance(all)
	m.Advance(all)
	require.Equal(t, "c", m.Active())
	m.Remove("c", all)
	assert.Equal(t, "a", m.Active())
}

func TestMachine_RemoveNonActiveKeepsHolder(t *testing.T) {
	m := turn.New(2)
	for _, id := range []string{"a", "b", "c"} {
		m.Add(id, all)
	}
	m.Advance(all)
	m.Remove("a", all)
	assert.Equal(t, "b", m.Active())
	assert.Equal(t, "c", m.Advance(all))
	assert.Equal(t, "b", m.Advance(all))
}

func TestMachine_RemoveBelowMinimumWaits(t *testing.T) {
	m := turn.New(2)
	m.Add("a", all)
	m.Add("b", all)
	m.Remove("b", all)
	assert.Equal(t, turn.WaitingForPlayers, m.Phase())
	assert.Empty(t, m.Active())
	assert.Empty(t, m.Advance(all))
}

func TestMachine_AddDuplicateIgnored(t *testing.T) {
	m := turn.New(1)
	m.Add("a", all)
	m.Add("a", all)
	assert.Equal(t, []string{"a"}, m.Order())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "waiting_for_players", turn.WaitingForPlayers.String())
	assert.Equal(t, "player_turn", turn.PlayerTurn.String())
}

// TestPropertyMachine_ActiveAlwaysEligibleMember drives random add/remove/advance
// sequences and checks the holder is always an eligible member of the order.
func TestPropertyMachine_ActiveAlwaysEligibleMember(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		minPlayers := rapid.IntRange(1, 3).Draw(rt, "min")
		m := turn.New(minPlayers)
		dead := map[string]bool{}
		eligible := func(id string) bool { return !dead[id] }
		next := 0

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			order := m.Order()
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				m.Add(fmt.Sprintf("p%d", next), eligible)
				next++
			case 1:
				if len(order) > 0 {
					m.Remove(rapid.SampledFrom(order).Draw(rt, "remove"), eligible)
				}
			case 2:
				if len(order) > 0 {
					id := rapid.SampledFrom(order).Draw(rt, "kill")
					dead[id] = !dead[id]
				}
			case 3:
				before := m.Active()
				after := m.Advance(eligible)
				if m.Phase() == turn.PlayerTurn && before != "" && after == "" {
					for _, id := range m.Order() {
						if eligible(id) {
							rt.Fatalf("advance stalled while %s eligible", id)
						}
					}
				}
			}

			if m.Phase() == turn.WaitingForPlayers {
				if m.Active() != "" {
					rt.Fatalf("active %q while waiting", m.Active())
				}
				if len(m.Order()) >= minPlayers {
					rt.Fatalf("waiting with %d >= %d participants", len(m.Order()), minPlayers)
				}
				continue
			}
			if a := m.Active(); a != "" && !m.Contains(a) {
				rt.Fatalf("active %q not in order %v", a, m.Order())
			}
		}
	})
}
