package worker

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"math"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// writeImage renders a single surface to the run's side-channel PNG.
func writeImage(s *Surface, workDir, runID string) error {
	path := filepath.Join(workDir, sandbox.ImageFile(runID))
	if err := s.dc.SavePNG(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// frameDelay validates and clamps the script-supplied per-frame delay.
// Numeric values are clamped into [0, 65535] milliseconds — a delay past the
// 16-bit range is not worth an error, just a ceiling. A non-numeric value is
// a BadDelay failure.
func frameDelay(v lua.LValue) (int, *sandbox.Error) {
	switch d := v.(type) {
	case *lua.LNilType, nil:
		return defaultFrameDelay, nil
	case lua.LNumber:
		// Clamp before converting: int(float64) on an out-of-range value is
		// implementation-defined, so the bounds must hold in float space.
		ms := float64(d)
		if math.IsNaN(ms) || ms < 0 {
			ms = 0
		}
		if ms > 65535 {
			ms = 65535
		}
		return int(ms), nil
	default:
		return 0, sandbox.Errorf(sandbox.KindBadDelay,
			"output.delay must be a number of milliseconds, got %s", v.Type().String())
	}
}

// gifLoopCount translates the script-supplied loop count into the GIF
// convention, where the stored count is the number of extra repeats:
// exactly 1 means play once (no loop directive), anything else is clamped
// into [0, 100] after subtracting the first play. A non-numeric value is a
// BadLoopCount failure.
func gifLoopCount(v lua.LValue) (int, *sandbox.Error) {
	var loops float64
	switch l := v.(type) {
	case *lua.LNilType, nil:
		// Default: repeat forever.
	case lua.LNumber:
		loops = float64(l)
	default:
		return 0, sandbox.Errorf(sandbox.KindBadLoopCount,
			"output.loops must be a number, got %s", v.Type().String())
	}

	if loops == 1 {
		// Play once: no loop directive at all.
		return -1, nil
	}
	// Clamp in float space; the subtraction can overflow an int conversion.
	extra := loops - 1
	if math.IsNaN(extra) || extra < 0 {
		extra = 0
	}
	if extra > 100 {
		extra = 100
	}
	return int(extra), nil
}

// writeAnimation assembles the collected frames into the run's side-channel
// GIF. delayVal and loopsVal are the raw Lua values the script left in
// output.delay and output.loops.
func writeAnimation(frames []*Surface, delayVal, loopsVal lua.LValue, workDir, runID string) *sandbox.Error {
	delayMS, serr := frameDelay(delayVal)
	if serr != nil {
		return serr
	}
	loopCount, serr := gifLoopCount(loopsVal)
	if serr != nil {
		return serr
	}

	g := &gif.GIF{LoopCount: loopCount}
	for _, frame := range frames {
		src := frame.dc.Image()
		bounds := src.Bounds()
		pal := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(pal, bounds, src, bounds.Min)
		g.Image = append(g.Image, pal)
		// GIF stores centiseconds per frame.
		g.Delay = append(g.Delay, delayMS/10)
	}

	// image/gif only writes the loop-count extension for multi-frame files.
	// Repeat a lone frame so the directive survives encoding.
	if loopCount != -1 && len(g.Image) == 1 {
		g.Image = append(g.Image, g.Image[0])
		g.Delay = append(g.Delay, g.Delay[0])
	}

	path := filepath.Join(workDir, sandbox.AnimationFile(runID))
	f, err := os.Create(path)
	if err != nil {
		return sandbox.Errorf(sandbox.KindInternal, "creating %s: %v", path, err)
	}
	defer f.Close()

	if err := gif.EncodeAll(f, g); err != nil {
		return sandbox.Errorf(sandbox.KindInternal, "encoding %s: %v", path, err)
	}
	return nil
}
