package worker

import (
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

func TestExecute_StillImage(t *testing.T) {
	dir := t.TempDir()
	env := Execute(`
local s = canvas.new(120, 80)
s:fill(20, 20, 60)
s:set_color(255, 0, 0)
s:circle(60, 40, 25)
s:set_color(255, 255, 255)
s:text("hi", 10, 20)
output.img = s
`, "img1", dir)

	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	if !env.HasImage {
		t.Fatal("HasImage = false, want true")
	}

	f, err := os.Open(filepath.Join(dir, sandbox.ImageFile("img1")))
	if err != nil {
		t.Fatalf("opening side-channel image: %v", err)
	}
	defer f.Close()

	im, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding image: %v", err)
	}
	if b := im.Bounds(); b.Dx() != 120 || b.Dy() != 80 {
		t.Errorf("image dimensions = %dx%d, want 120x80", b.Dx(), b.Dy())
	}
}

func TestExecute_ImageSlotWrongTypeIgnored(t *testing.T) {
	env := run(t, `output.img = "not a surface"`)
	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	if env.HasImage {
		t.Error("HasImage = true for a non-surface value, want silent drop")
	}
}

func TestExecute_Animation(t *testing.T) {
	dir := t.TempDir()
	env := Execute(`
for i = 1, 3 do
  local s = canvas.new(32, 32)
  s:fill(i * 50, 0, 0)
  output.addframe(s)
end
output.delay = 120
output.loops = 3
`, "anim1", dir)

	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	if !env.HasAnimation {
		t.Fatal("HasAnimation = false, want true")
	}

	g := decodeGIF(t, dir, "anim1")
	if len(g.Image) != 3 {
		t.Fatalf("frames = %d, want 3", len(g.Image))
	}
	// 120ms stored as centiseconds.
	if g.Delay[0] != 12 {
		t.Errorf("frame delay = %d cs, want 12", g.Delay[0])
	}
	// loops = 3 plays → 2 extra repeats.
	if g.LoopCount != 2 {
		t.Errorf("LoopCount = %d, want 2", g.LoopCount)
	}
}

func TestExecute_DelayClampedHigh(t *testing.T) {
	dir := t.TempDir()
	env := Execute(`
local s = canvas.new(16, 16)
output.addframe(s)
output.delay = 100000
`, "anim2", dir)

	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	g := decodeGIF(t, dir, "anim2")
	if g.Delay[0] != 6553 { // 65535 ms ceiling, in centiseconds
		t.Errorf("frame delay = %d cs, want 6553 (clamped)", g.Delay[0])
	}
}

func TestExecute_LoopsClamped(t *testing.T) {
	tests := []struct {
		name  string
		loops string
		want  int
	}{
		{"negative clamps to repeat-forever", "-5", 0},
		{"one means play once", "1", -1},
		{"huge clamps to 100 extra repeats", "5000", 100},
		{"zero repeats forever", "0", 0},
		{"beyond-int negative clamps to repeat-forever", "-1e300", 0},
		{"beyond-int positive clamps to 100 extra repeats", "1e300", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			env := Execute(`
local s = canvas.new(8, 8)
output.addframe(s)
output.loops = `+tt.loops, "loop", dir)
			if env.Error != nil {
				t.Fatalf("error = %v, want nil", env.Error)
			}
			if g := decodeGIF(t, dir, "loop"); g.LoopCount != tt.want {
				t.Errorf("LoopCount = %d, want %d", g.LoopCount, tt.want)
			}
		})
	}
}

func TestExecute_DelayBeyondIntRangeClamped(t *testing.T) {
	// A delay past float64's exact-int range must still hit the 65535 ms
	// ceiling rather than wrap through an undefined int conversion.
	dir := t.TempDir()
	env := Execute(`
local s = canvas.new(16, 16)
output.addframe(s)
output.delay = 1e300
`, "anim3", dir)

	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	g := decodeGIF(t, dir, "anim3")
	if g.Delay[0] != 6553 {
		t.Errorf("frame delay = %d cs, want 6553 (clamped)", g.Delay[0])
	}
}

func TestExecute_BadDelay(t *testing.T) {
	env := run(t, `
local s = canvas.new(8, 8)
output.addframe(s)
output.delay = "fast"
`)
	if env.Error == nil || env.Error.Kind != sandbox.KindBadDelay {
		t.Fatalf("error = %v, want kind %s", env.Error, sandbox.KindBadDelay)
	}
	if env.HasAnimation {
		t.Error("HasAnimation = true alongside a BadDelay error")
	}
}

func TestExecute_BadLoopCount(t *testing.T) {
	env := run(t, `
local s = canvas.new(8, 8)
output.addframe(s)
output.loops = {}
`)
	if env.Error == nil || env.Error.Kind != sandbox.KindBadLoopCount {
		t.Fatalf("error = %v, want kind %s", env.Error, sandbox.KindBadLoopCount)
	}
}

func TestExecute_FrameIsCopiedAtAppend(t *testing.T) {
	// Mutating a surface after addframe must not alter the captured frame.
	dir := t.TempDir()
	env := Execute(`
local s = canvas.new(8, 8)
s:fill(255, 0, 0)
output.addframe(s)
s:fill(0, 255, 0)
`, "copy", dir)
	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	g := decodeGIF(t, dir, "copy")
	r, gr, _, _ := g.Image[0].At(4, 4).RGBA()
	if r == 0 || gr > r {
		t.Errorf("captured frame pixel = (%d, %d, ...), want the red fill from append time", r>>8, gr>>8)
	}
}

func decodeGIF(t *testing.T, dir, runID string) *gif.GIF {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, sandbox.AnimationFile(runID)))
	if err != nil {
		t.Fatalf("opening side-channel animation: %v", err)
	}
	defer f.Close()
	g, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("decoding animation: %v", err)
	}
	return g
}
