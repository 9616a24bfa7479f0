package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/dice"
)

// TurnHook is the Lua global a policy script must define:
//
//	function npc_turn(self, players) return { command = "...", target = "..." } end
//
// A bare string return value is accepted as the command name.
const TurnHook = "npc_turn"

// ErrNoHook is returned when the loaded script does not define TurnHook.
var ErrNoHook = errors.New("scripting: npc_turn is not defined")

// PlayerView is the read-only picture of one participant handed to a policy.
type PlayerView struct {
	UserID      string
	Username    string
	DisplayName string
	Q           int
	R           int
	Health      int
	MaxHealth   int
	IsNPC       bool
	// Distance is the hex distance from the deciding NPC.
	Distance int
	// Toward names the first step of the shortest open path from the deciding
	// NPC to this participant, or "" when unreachable.
	Toward string
}

// Decision is the action a policy chose. Command is a verb name or alias;
// Target is a username, used by attack.
type Decision struct {
	Command string
	Target  string
}

// DefaultStates is the number of Lua states a Policy keeps when none is given.
const DefaultStates = 4

// ErrClosed is returned by Decide after Close.
var ErrClosed = errors.New("scripting: policy closed")

// Policy evaluates a Lua NPC script. Policy is safe for concurrent use; each
// Decide borrows one of a fixed set of identically loaded states.
type Policy struct {
	states    chan *lua.LState
	size      int
	closed    chan struct{}
	closeOnce sync.Once
	instLimit int
	logger    *zap.Logger
}

// NewPolicyFromFile loads a policy script from path.
//
// Precondition: path must be a readable Lua file defining TurnHook.
// Postcondition: Returns a ready Policy or a non-nil error.
func NewPolicyFromFile(path string, instLimit, states int, rng dice.Source, logger *zap.Logger) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: reading policy %q: %w", path, err)
	}
	return NewPolicy(path, string(src), instLimit, states, rng, logger)
}

// NewPolicy compiles src (named name in error messages) into states sandboxed
// Lua states; states <= 0 uses DefaultStates.
//
// Precondition: rng must be safe for concurrent use; rng and logger must be
// non-nil.
// Postcondition: Returns a ready Policy or a non-nil error; ErrNoHook when
// the script does not define TurnHook.
func NewPolicy(name, src string, instLimit, states int, rng dice.Source, logger *zap.Logger) (*Policy, error) {
	if states <= 0 {
		states = DefaultStates
	}
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	fnProto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("scripting: loading %q: %w", name, err)
	}

	p := &Policy{
		states:    make(chan *lua.LState, states),
		size:      states,
		closed:    make(chan struct{}),
		instLimit: instLimit,
		logger:    logger,
	}
	for i := 0; i < states; i++ {
		L, err := loadState(name, fnProto, instLimit, rng, logger)
		if err != nil {
			p.drain(i)
			return nil, err
		}
		p.states <- L
	}
	return p, nil
}

func loadState(name string, fnProto *lua.FunctionProto, instLimit int, rng dice.Source, logger *zap.Logger) (*lua.LState, error) {
	L := NewSandboxedState()
	registerModules(L, rng, logger)

	err := withBudget(context.Background(), L, instLimit, func() error {
		L.Push(L.NewFunctionFromProto(fnProto))
		return L.PCall(0, lua.MultRet, nil)
	})
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	if L.GetGlobal(TurnHook).Type() != lua.LTFunction {
		L.Close()
		return nil, ErrNoHook
	}
	return L, nil
}

// acquire waits for a free state until ctx ends or the policy is closed.
func (p *Policy) acquire(ctx context.Context) (*lua.LState, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}
	select {
	case L := <-p.states:
		return L, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("scripting: waiting for a Lua state: %w", ctx.Err())
	}
}

// Decide asks the script for one action.
//
// Postcondition: Returns a Decision with a non-empty Command, or an error
// when ctx ends before a state frees up, the script fails, exceeds its
// instruction budget or returns nothing usable.
func (p *Policy) Decide(ctx context.Context, self PlayerView, players []PlayerView) (Decision, error) {
	L, err := p.acquire(ctx)
	if err != nil {
		return Decision{}, err
	}
	defer func() { p.states <- L }()

	var ret lua.LValue
	err = withBudget(ctx, L, p.instLimit, func() error {
		list := L.NewTable()
		for _, pv := range players {
			list.Append(viewTable(L, pv))
		}
		if err := L.CallByParam(lua.P{
			Fn:      L.GetGlobal(TurnHook),
			NRet:    1,
			Protect: true,
		}, viewTable(L, self), list); err != nil {
			return err
		}
		ret = L.Get(-1)
		L.Pop(1)
		return nil
	})
	if err != nil {
		p.logger.Warn("scripting: Lua runtime error",
			zap.String("hook", TurnHook),
			zap.String("npc", self.Username),
			zap.Error(err),
		)
		return Decision{}, fmt.Errorf("scripting: %s: %w", TurnHook, err)
	}

	var d Decision
	switch v := ret.(type) {
	case lua.LString:
		d.Command = string(v)
	case *lua.LTable:
		d.Command = lua.LVAsString(v.RawGetString("command"))
		d.Target = lua.LVAsString(v.RawGetString("target"))
	}
	if d.Command == "" {
		return Decision{}, fmt.Errorf("scripting: %s returned no command", TurnHook)
	}
	return d, nil
}

// Close releases every Lua state, waiting for in-flight decisions to return
// theirs. Later Decide calls fail with ErrClosed.
func (p *Policy) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.drain(p.size)
	})
}

func (p *Policy) drain(n int) {
	for i := 0; i < n; i++ {
		L := <-p.states
		L.Close()
	}
}

func viewTable(L *lua.LState, pv PlayerView) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "user_id", lua.LString(pv.UserID))
	L.SetField(t, "username", lua.LString(pv.Username))
	L.SetField(t, "display_name", lua.LString(pv.DisplayName))
	L.SetField(t, "q", lua.LNumber(pv.Q))
	L.SetField(t, "r", lua.LNumber(pv.R))
	L.SetField(t, "health", lua.LNumber(pv.Health))
	L.SetField(t, "max_health", lua.LNumber(pv.MaxHealth))
	L.SetField(t, "is_npc", lua.LBool(pv.IsNPC))
	L.SetField(t, "distance", lua.LNumber(pv.Distance))
	L.SetField(t, "toward", lua.LString(pv.Toward))
	return t
}
