package worker

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// importBlockedTag marks errors raised by the require/import stubs so the
// classifier can recognize an import attempt regardless of how the script
// invoked it.
const importBlockedTag = "IMPORT_BLOCKED"

// blockedGlobals is the deny-list applied to the base library after it is
// opened: dynamic code loading, environment and metatable manipulation, raw
// table access, and the host print. Everything not removed here was reviewed
// as having no I/O or introspection surface.
var blockedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"collectgarbage",
	"rawget",
	"rawset",
	"rawequal",
	"setmetatable",
	"getmetatable",
	"setfenv",
	"getfenv",
	"module",
	"newproxy",
	"print",
	"_G",
	"_printregs",
}

// newState builds a fresh interpreter holding exactly the capability surface:
// a scrubbed base library, the full table/string/math libraries, the curated
// canvas module, a safe clock table, the sandbox print, and the output
// handle. The io, os, debug, package, channel, and coroutine libraries are
// never opened, so their capabilities simply do not exist in this universe.
//
// One worker process runs exactly one script, so a run can never observe
// another run's top-level assignments.
func newState(raw *rawResult) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	// string.dump would expose function internals; gopher-lua does not
	// implement it, but scrub defensively in case a future version does.
	if strTbl, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		strTbl.RawSetString("dump", lua.LNil)
	}

	// Import attempts get a recognizable failure instead of a bare
	// nil-call error, so the worker can classify them helpfully.
	importStub := L.NewFunction(func(L *lua.LState) int {
		L.RaiseError(importBlockedTag)
		return 0
	})
	L.SetGlobal("require", importStub)
	L.SetGlobal("import", importStub)

	registerClock(L)
	registerCanvas(L)
	registerPrint(L, raw)
	registerOutput(L, raw)

	return L
}

// registerClock exposes timing helpers. Wall-clock reads have no I/O or
// introspection surface, so they are safe to hand out in full.
func registerClock(L *lua.LState) {
	start := time.Now()
	clock := L.NewTable()
	clock.RawSetString("monotonic", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(start).Seconds()))
		return 1
	}))
	clock.RawSetString("epoch", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().UnixNano()) / 1e9))
		return 1
	}))
	L.SetGlobal("clock", clock)
}
