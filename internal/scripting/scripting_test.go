package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/hexbattle/internal/game/dice"
)

func newTestPolicy(t *testing.T, src string) (*Policy, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	p, err := NewPolicy(t.Name(), src, 0, 0, dice.NewSequenceSource(2), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, logs
}

func TestNewSandboxedState_UnsafeLibsNil(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	for _, name := range []string{"os", "io", "debug", "dofile", "loadfile", "load", "collectgarbage", "require"} {
		assert.Equal(t, lua.LNil, L.GetGlobal(name), "expected %s to be nil", name)
	}
}

func TestNewSandboxedState_SafeLibsAvailable(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	err := L.DoString(`
		local x = math.sqrt(4)
		assert(x == 2.0, "math.sqrt failed")
		local s = string.upper("hello")
		assert(s == "HELLO", "string.upper failed")
	`)
	assert.NoError(t, err)
}

func TestWithBudget_InstructionLimitExceeded(t *testing.T) {
	L := NewSandboxedState()
	defer L.Close()
	err := withBudget(context.Background(), L, 10, func() error {
		return L.DoString(`while true do end`)
	})
	assert.Error(t, err)

	// The budget is per call: the state is usable again afterwards.
	err = withBudget(context.Background(), L, 0, func() error {
		return L.DoString(`local x = 1 + 1`)
	})
	assert.NoError(t, err)
}

func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(t, "limit")
		L := NewSandboxedState()
		defer L.Close()
		err := withBudget(context.Background(), L, limit, func() error {
			return L.DoString(`while true do end`)
		})
		if err == nil {
			t.Fatalf("expected error with limit=%d but got nil", limit)
		}
	})
}

func TestNewPolicy_MissingHook(t *testing.T) {
	_, err := NewPolicy("empty", `local x = 1`, 0, 1, dice.NewSequenceSource(), zap.NewNop())
	assert.ErrorIs(t, err, ErrNoHook)
}

func TestNewPolicy_SyntaxError(t *testing.T) {
	_, err := NewPolicy("broken", `function npc_turn(`, 0, 1, dice.NewSequenceSource(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestDecide_TableAndStringReturns(t *testing.T) {
	p, _ := newTestPolicy(t, `
		function npc_turn(self, players)
			if #players == 0 then return "end_turn" end
			return { command = "attack", target = players[1].username }
		end
	`)

	d, err := p.Decide(context.Background(), PlayerView{Username: "goblin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Decision{Command: "end_turn"}, d)

	d, err = p.Decide(context.Background(), PlayerView{Username: "goblin"}, []PlayerView{{Username: "alice"}})
	require.NoError(t, err)
	assert.Equal(t, Decision{Command: "attack", Target: "alice"}, d)
}

func TestDecide_RuntimeErrorIsLogged(t *testing.T) {
	p, logs := newTestPolicy(t, `function npc_turn(self, players) error("boom") end`)

	_, err := p.Decide(context.Background(), PlayerView{Username: "goblin"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("scripting: Lua runtime error").Len())
}

func TestDecide_EmptyReturnIsError(t *testing.T) {
	p, _ := newTestPolicy(t, `function npc_turn(self, players) return nil end`)
	_, err := p.Decide(context.Background(), PlayerView{}, nil)
	assert.Error(t, err)
}

func TestDecide_InfiniteLoopStopped(t *testing.T) {
	p, _ := newTestPolicy(t, `function npc_turn(self, players) while true do end end`)
	_, err := p.Decide(context.Background(), PlayerView{}, nil)
	assert.Error(t, err)
}

func TestDecide_WaitIsBoundedByContext(t *testing.T) {
	p, err := NewPolicy(t.Name(), `function npc_turn(self, players) return "pass" end`, 0, 1, dice.NewSequenceSource(), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	held, err := p.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Decide(ctx, PlayerView{}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.states <- held
	d, err := p.Decide(context.Background(), PlayerView{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pass", d.Command)
}

func TestDecide_StatesServeCallersInParallel(t *testing.T) {
	p, err := NewPolicy(t.Name(), `function npc_turn(self, players) return "pass" end`, 0, 3, dice.NewSequenceSource(), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	// Two states are busy; the third still answers.
	a, err := p.acquire(context.Background())
	require.NoError(t, err)
	b, err := p.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := p.Decide(ctx, PlayerView{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pass", d.Command)

	p.states <- a
	p.states <- b
}

func TestDecide_AfterCloseFails(t *testing.T) {
	p, err := NewPolicy(t.Name(), `function npc_turn(self, players) return "pass" end`, 0, 2, dice.NewSequenceSource(), zap.NewNop())
	require.NoError(t, err)
	p.Close()
	p.Close()

	_, err = p.Decide(context.Background(), PlayerView{}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestProperty_ConcurrentDecideAlwaysAnswers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		states := rapid.IntRange(1, 4).Draw(t, "states")
		callers := rapid.IntRange(1, 16).Draw(t, "callers")
		p, err := NewPolicy("concurrent", `
			function npc_turn(self, players)
				return { command = "attack", target = self.username }
			end`, 0, states, dice.NewSequenceSource(), zap.NewNop())
		require.NoError(t, err)
		defer p.Close()

		var wg sync.WaitGroup
		errs := make([]error, callers)
		targets := make([]string, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				d, err := p.Decide(context.Background(), PlayerView{Username: fmt.Sprintf("npc%d", i)}, nil)
				errs[i], targets[i] = err, d.Target
			}(i)
		}
		wg.Wait()
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, fmt.Sprintf("npc%d", i), targets[i])
		}
	})
}

func TestEngineModules(t *testing.T) {
	p, logs := newTestPolicy(t, `
		function npc_turn(self, players)
			engine.log.info("deciding")
			local d = engine.distance({q = 0, r = 0}, {q = 3, r = 3})
			return { command = "roll", target = tostring(engine.roll(6)) .. ":" .. tostring(d) }
		end
	`)

	d, err := p.Decide(context.Background(), PlayerView{}, nil)
	require.NoError(t, err)
	// SequenceSource(2) yields 2, so roll returns 3.
	assert.Equal(t, "3:6", d.Target)
	assert.Equal(t, 1, logs.FilterMessage("deciding").Len())
}

func TestDefaultScript(t *testing.T) {
	path := filepath.Join("..", "..", "content", "scripts", "npc.lua")
	_, err := os.Stat(path)
	require.NoError(t, err)

	p, err := NewPolicyFromFile(path, 0, 2, dice.NewSequenceSource(), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	self := PlayerView{Username: "goblin", Health: 60, MaxHealth: 60, IsNPC: true}
	ctx := context.Background()

	t.Run("attacks adjacent", func(t *testing.T) {
		d, err := p.Decide(ctx, self, []PlayerView{
			{Username: "far", Health: 50, Distance: 4, Toward: "west"},
			{Username: "near", Health: 50, Distance: 1, Toward: "east"},
		})
		require.NoError(t, err)
		assert.Equal(t, Decision{Command: "attack", Target: "near"}, d)
	})

	t.Run("ignores fallen and npcs", func(t *testing.T) {
		d, err := p.Decide(ctx, self, []PlayerView{
			{Username: "dead", Health: 0, Distance: 1},
			{Username: "ally", Health: 30, Distance: 1, IsNPC: true},
			{Username: "alice", Health: 50, Distance: 3, Toward: "southeast"},
		})
		require.NoError(t, err)
		assert.Equal(t, Decision{Command: "move_southeast"}, d)
	})

	t.Run("heals when low", func(t *testing.T) {
		hurt := self
		hurt.Health = 10
		d, err := p.Decide(ctx, hurt, []PlayerView{{Username: "alice", Health: 50, Distance: 3, Toward: "east"}})
		require.NoError(t, err)
		assert.Equal(t, "heal", d.Command)
	})

	t.Run("ends turn when nobody is reachable", func(t *testing.T) {
		d, err := p.Decide(ctx, self, []PlayerView{{Username: "alice", Health: 50, Distance: 5}})
		require.NoError(t, err)
		assert.Equal(t, Decision{Command: "end_turn"}, d)
	})
}
