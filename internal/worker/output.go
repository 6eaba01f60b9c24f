// Package worker implements the untrusted side of the script execution
// engine: the Lua capability surface, the entry point that runs one script
// inside an isolated process, the sanitizer that translates worker-local
// state into a transportable envelope, and the media post-processor.
//
// Nothing in this package is ever called from the host's request path — the
// supervisor re-executes the binary in worker mode and talks to it over a
// pipe.
package worker

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// defaultFrameDelay is the per-frame animation delay in milliseconds when the
// script does not set output.delay.
const defaultFrameDelay = 200

// rawResult is the worker-local, unsanitized result of a run. The error slot
// and the media slots may reference live interpreter state; only the
// sanitizer reads this structure, and nothing in it crosses the process
// boundary directly.
type rawResult struct {
	text     strings.Builder
	frames   []*Surface
	err      *sandbox.Error
	duration float64
}

func newRawResult() *rawResult {
	return &rawResult{duration: -1}
}

// registerOutput seeds the `output` global: the script's handle for producing
// results. Fields img, delay, and loops are plain table slots the script may
// assign anything to — the sanitizer type-checks them after the run. Frames
// are collected Go-side through addframe so a script rebinding `output`
// cannot orphan them.
func registerOutput(L *lua.LState, raw *rawResult) {
	out := L.NewTable()
	out.RawSetString("addframe", L.NewFunction(func(L *lua.LState) int {
		s := checkSurface(L, 1)
		raw.frames = append(raw.frames, s.clone())
		return 0
	}))
	L.SetGlobal("output", out)
}

// registerPrint installs the sandbox print substitute: the only sanctioned
// text side-effect channel. Values are joined with a single space and
// terminated with a newline, honoring __tostring metamethods.
func registerPrint(L *lua.LState, raw *rawResult) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		for i := 1; i <= top; i++ {
			if i > 1 {
				raw.text.WriteString(" ")
			}
			raw.text.WriteString(lua.LVAsString(L.ToStringMeta(L.Get(i))))
		}
		raw.text.WriteString("\n")
		return 0
	}))
}
