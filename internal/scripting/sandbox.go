// Package scripting provides a sandboxed GopherLua execution environment for
// NPC turn policies. It has no dependency on the battle packages; the caller
// converts battle state into the plain view types defined here.
package scripting

import (
	"context"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// policy call when no override is configured.
const DefaultInstructionLimit = 100_000

// countingContext is a context.Context that cancels itself after Done() has
// been called limit times. GopherLua's mainLoopWithContext calls Done() once
// per opcode, making this an exact instruction-count limit.
type countingContext struct {
	context.Context
	cancel    context.CancelFunc
	remaining *atomic.Int64
}

// Done decrements the remaining budget and fires cancel when it runs out.
func (c *countingContext) Done() <-chan struct{} {
	if c.remaining.Add(-1) <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

// newCountingContext returns a context that cancels after limit calls to Done().
//
// Precondition: limit > 0.
func newCountingContext(parent context.Context, limit int) (context.Context, context.CancelFunc) {
	base, cancel := context.WithCancel(parent)
	rem := &atomic.Int64{}
	rem.Store(int64(limit))
	return &countingContext{
		Context:   base,
		cancel:    cancel,
		remaining: rem,
	}, cancel
}

// NewSandboxedState creates a GopherLua LState with:
//   - Only safe stdlib loaded: base, table, string, math
//   - Dangerous globals removed: dofile, loadfile, load, collectgarbage, require
//
// The instruction budget is applied per call by withBudget, not here, so a
// long-lived state never exhausts it.
//
// Postcondition: Returns a non-nil LState. The caller must call L.Close().
func NewSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "collectgarbage", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// withBudget runs fn with at most limit Lua opcodes available to L, also
// stopping when ctx is cancelled.
//
// Precondition: limit >= 0; 0 uses DefaultInstructionLimit.
func withBudget(ctx context.Context, L *lua.LState, limit int, fn func() error) error {
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	cctx, cancel := newCountingContext(ctx, limit)
	defer cancel()
	L.SetContext(cctx)
	defer L.RemoveContext()
	return fn()
}
