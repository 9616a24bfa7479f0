package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/game/dice"
	"github.com/cory-johannsen/hexbattle/internal/game/hex"
)

// registerModules installs the engine.* helpers available to policies:
//
//	engine.log.debug(msg) / engine.log.info(msg) / engine.log.warn(msg)
//	engine.roll(n)          -- uniform integer in [1, n]
//	engine.distance(a, b)   -- hex distance between tables with q and r fields
func registerModules(L *lua.LState, rng dice.Source, logger *zap.Logger) {
	engine := L.NewTable()

	logTbl := L.NewTable()
	for name, fn := range map[string]func(string, ...zap.Field){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
	} {
		logFn := fn
		L.SetField(logTbl, name, L.NewFunction(func(L *lua.LState) int {
			logFn(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	L.SetField(engine, "log", logTbl)

	L.SetField(engine, "roll", L.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt(1)
		if n <= 0 {
			L.ArgError(1, "n must be positive")
			return 0
		}
		L.Push(lua.LNumber(rng.Intn(n) + 1))
		return 1
	}))

	L.SetField(engine, "distance", L.NewFunction(func(L *lua.LState) int {
		a := coordArg(L, 1)
		b := coordArg(L, 2)
		L.Push(lua.LNumber(hex.Distance(a, b)))
		return 1
	}))

	L.SetGlobal("engine", engine)
}

func coordArg(L *lua.LState, n int) hex.Coord {
	tbl := L.CheckTable(n)
	return hex.Coord{
		Q: int(lua.LVAsNumber(tbl.RawGetString("q"))),
		R: int(lua.LVAsNumber(tbl.RawGetString("r"))),
	}
}
