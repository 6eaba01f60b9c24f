package worker

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// sanitize is the trust boundary: the one place worker-local state becomes
// transportable data. Each field crosses only if it holds exactly the
// expected type; anything else is silently dropped, never coerced — an
// unrecognized value on the result pipe is a vector for corrupting the
// supervisor, and omission is the safe default.
//
// Live surfaces are reduced to side-channel files plus presence flags by the
// media post-processor before the envelope is encoded.
func sanitize(L *lua.LState, raw *rawResult, workDir, runID string) *sandbox.Envelope {
	env := sandbox.NewEnvelope()

	// Text and duration accumulate Go-side, so their types are fixed by
	// construction; the genuinely dynamic fields follow.
	env.Text = raw.text.String()
	env.Duration = raw.duration
	env.Error = raw.err

	// The script may have rebound the output global to anything; only a
	// table with correctly-typed slots produces media.
	delayVal := lua.LValue(lua.LNil)
	loopsVal := lua.LValue(lua.LNil)
	if out, ok := L.GetGlobal("output").(*lua.LTable); ok {
		if s, ok := isSurface(out.RawGetString("img")); ok {
			if err := writeImage(s, workDir, runID); err != nil {
				if env.Error == nil {
					env.Error = sandbox.Errorf(sandbox.KindInternal, "saving image: %v", err)
				}
			} else {
				env.HasImage = true
			}
		}
		delayVal = out.RawGetString("delay")
		loopsVal = out.RawGetString("loops")
	}

	if len(raw.frames) > 0 {
		if serr := writeAnimation(raw.frames, delayVal, loopsVal, workDir, runID); serr != nil {
			// BadDelay/BadLoopCount never mask a script failure.
			if env.Error == nil {
				env.Error = serr
			}
		} else {
			env.HasAnimation = true
		}
	}

	return env
}
