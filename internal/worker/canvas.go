package worker

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/image/font/basicfont"
)

const (
	surfaceTypeName = "surface"
	vec2TypeName    = "vec2"

	// maxSurfaceDim bounds a single allocation request. Gradual allocation
	// abuse is the supervisor's job; this only stops a one-call OOM.
	maxSurfaceDim = 4096
)

// Surface is a drawable raster surface backed by a gg context. It exists only
// inside the worker process; the sanitizer reduces it to a side-channel file
// plus a presence flag before anything crosses the boundary.
type Surface struct {
	dc *gg.Context
	w  int
	h  int
}

func newSurface(w, h int) *Surface {
	dc := gg.NewContext(w, h)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGBA255(255, 255, 255, 255)
	return &Surface{dc: dc, w: w, h: h}
}

func (s *Surface) clone() *Surface {
	out := newSurface(s.w, s.h)
	out.dc.DrawImage(s.dc.Image(), 0, 0)
	return out
}

// registerCanvas exposes the curated drawing module: surface construction,
// drawing primitives, simple transforms, and 2D vector math. This is a
// hand-picked re-export surface — nothing here can reach the filesystem, the
// process table, or the network.
func registerCanvas(L *lua.LState) {
	registerSurfaceType(L)
	registerVec2Type(L)

	mod := L.NewTable()
	mod.RawSetString("new", L.NewFunction(canvasNew))
	mod.RawSetString("vec2", L.NewFunction(vec2New))
	L.SetGlobal("canvas", mod)
}

func canvasNew(L *lua.LState) int {
	w := L.CheckInt(1)
	h := L.CheckInt(2)
	if w < 1 || h < 1 || w > maxSurfaceDim || h > maxSurfaceDim {
		L.ArgError(1, fmt.Sprintf("surface dimensions must be within 1..%d", maxSurfaceDim))
		return 0
	}
	pushSurface(L, newSurface(w, h))
	return 1
}

func pushSurface(L *lua.LState, s *Surface) {
	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(surfaceTypeName))
	L.Push(ud)
}

func checkSurface(L *lua.LState, n int) *Surface {
	ud := L.CheckUserData(n)
	if s, ok := ud.Value.(*Surface); ok {
		return s
	}
	L.ArgError(n, "surface expected")
	return nil
}

// isSurface reports whether a raw Lua value holds a drawable surface.
func isSurface(v lua.LValue) (*Surface, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	s, ok := ud.Value.(*Surface)
	return s, ok
}

func registerSurfaceType(L *lua.LState) {
	mt := L.NewTypeMetatable(surfaceTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), surfaceMethods))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		s := checkSurface(L, 1)
		L.Push(lua.LString(fmt.Sprintf("surface(%dx%d)", s.w, s.h)))
		return 1
	}))
}

var surfaceMethods = map[string]lua.LGFunction{
	"width": func(L *lua.LState) int {
		L.Push(lua.LNumber(checkSurface(L, 1).w))
		return 1
	},
	"height": func(L *lua.LState) int {
		L.Push(lua.LNumber(checkSurface(L, 1).h))
		return 1
	},
	"size": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		L.Push(lua.LNumber(s.w))
		L.Push(lua.LNumber(s.h))
		return 2
	},
	"set_color": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.SetRGBA255(colorArgs(L, 2))
		return 0
	},
	"fill": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.SetRGBA255(colorArgs(L, 2))
		s.dc.Clear()
		return 0
	},
	"rect": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.DrawRectangle(fourNumbers(L, 2))
		s.dc.Fill()
		return 0
	},
	"stroke_rect": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.SetLineWidth(float64(L.OptNumber(6, 1)))
		s.dc.DrawRectangle(fourNumbers(L, 2))
		s.dc.Stroke()
		return 0
	},
	"circle": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.DrawCircle(float64(L.CheckNumber(2)), float64(L.CheckNumber(3)), float64(L.CheckNumber(4)))
		s.dc.Fill()
		return 0
	},
	"stroke_circle": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.SetLineWidth(float64(L.OptNumber(5, 1)))
		s.dc.DrawCircle(float64(L.CheckNumber(2)), float64(L.CheckNumber(3)), float64(L.CheckNumber(4)))
		s.dc.Stroke()
		return 0
	},
	"line": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.SetLineWidth(float64(L.OptNumber(6, 1)))
		s.dc.DrawLine(fourNumbers(L, 2))
		s.dc.Stroke()
		return 0
	},
	"pixel": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.SetPixel(L.CheckInt(2), L.CheckInt(3))
		return 0
	},
	"polygon": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		pts := L.CheckTable(2)
		n := pts.Len()
		if n < 3 {
			L.ArgError(2, "polygon needs at least 3 points")
			return 0
		}
		s.dc.NewSubPath()
		for i := 1; i <= n; i++ {
			pt, ok := pts.RawGetInt(i).(*lua.LTable)
			if !ok {
				L.ArgError(2, "polygon points must be {x, y} pairs")
				return 0
			}
			x := float64(lua.LVAsNumber(pt.RawGetInt(1)))
			y := float64(lua.LVAsNumber(pt.RawGetInt(2)))
			if i == 1 {
				s.dc.MoveTo(x, y)
			} else {
				s.dc.LineTo(x, y)
			}
		}
		s.dc.ClosePath()
		s.dc.Fill()
		return 0
	},
	"text": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		s.dc.DrawString(L.CheckString(2), float64(L.CheckNumber(3)), float64(L.CheckNumber(4)))
		return 0
	},
	"clone": func(L *lua.LState) int {
		pushSurface(L, checkSurface(L, 1).clone())
		return 1
	},
	// rotated returns a new surface with the image rotated about its center.
	// Corners that leave the canvas are clipped, like a fixed-size viewport.
	"rotated": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		deg := float64(L.CheckNumber(2))
		out := newSurface(s.w, s.h)
		out.dc.RotateAbout(gg.Radians(deg), float64(s.w)/2, float64(s.h)/2)
		out.dc.DrawImage(s.dc.Image(), 0, 0)
		return pushTransformed(L, out)
	},
	"scaled": func(L *lua.LState) int {
		s := checkSurface(L, 1)
		w := L.CheckInt(2)
		h := L.CheckInt(3)
		if w < 1 || h < 1 || w > maxSurfaceDim || h > maxSurfaceDim {
			L.ArgError(2, fmt.Sprintf("surface dimensions must be within 1..%d", maxSurfaceDim))
			return 0
		}
		out := newSurface(w, h)
		out.dc.Scale(float64(w)/float64(s.w), float64(h)/float64(s.h))
		out.dc.DrawImage(s.dc.Image(), 0, 0)
		return pushTransformed(L, out)
	},
}

func pushTransformed(L *lua.LState, s *Surface) int {
	// Transforms bake into the context matrix; reset it so subsequent draws
	// on the result behave normally.
	s.dc.Identity()
	pushSurface(L, s)
	return 1
}

// colorArgs reads r, g, b and an optional alpha starting at argument n.
func colorArgs(L *lua.LState, n int) (r, g, b, a int) {
	r = clampColor(L.CheckInt(n))
	g = clampColor(L.CheckInt(n + 1))
	b = clampColor(L.CheckInt(n + 2))
	a = clampColor(L.OptInt(n+3, 255))
	return r, g, b, a
}

func clampColor(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func fourNumbers(L *lua.LState, n int) (a, b, c, d float64) {
	return float64(L.CheckNumber(n)), float64(L.CheckNumber(n + 1)),
		float64(L.CheckNumber(n + 2)), float64(L.CheckNumber(n + 3))
}

// vec2 is a small 2D vector for script-side math, mirroring the vector type
// drawing libraries ship with.
type vec2 struct {
	x, y float64
}

func vec2New(L *lua.LState) int {
	v := &vec2{
		x: float64(L.OptNumber(1, 0)),
		y: float64(L.OptNumber(2, 0)),
	}
	pushVec2(L, v)
	return 1
}

func pushVec2(L *lua.LState, v *vec2) {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, L.GetTypeMetatable(vec2TypeName))
	L.Push(ud)
}

func checkVec2(L *lua.LState, n int) *vec2 {
	ud := L.CheckUserData(n)
	if v, ok := ud.Value.(*vec2); ok {
		return v
	}
	L.ArgError(n, "vec2 expected")
	return nil
}

func registerVec2Type(L *lua.LState) {
	mt := L.NewTypeMetatable(vec2TypeName)
	methods := L.SetFuncs(L.NewTable(), vec2Methods)

	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		v := checkVec2(L, 1)
		switch L.CheckString(2) {
		case "x":
			L.Push(lua.LNumber(v.x))
		case "y":
			L.Push(lua.LNumber(v.y))
		default:
			L.Push(methods.RawGetString(L.CheckString(2)))
		}
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		v := checkVec2(L, 1)
		val := float64(L.CheckNumber(3))
		switch L.CheckString(2) {
		case "x":
			v.x = val
		case "y":
			v.y = val
		default:
			L.ArgError(2, "vec2 has only x and y")
		}
		return 0
	}))
	L.SetField(mt, "__add", L.NewFunction(func(L *lua.LState) int {
		a, b := checkVec2(L, 1), checkVec2(L, 2)
		pushVec2(L, &vec2{a.x + b.x, a.y + b.y})
		return 1
	}))
	L.SetField(mt, "__sub", L.NewFunction(func(L *lua.LState) int {
		a, b := checkVec2(L, 1), checkVec2(L, 2)
		pushVec2(L, &vec2{a.x - b.x, a.y - b.y})
		return 1
	}))
	L.SetField(mt, "__mul", L.NewFunction(func(L *lua.LState) int {
		// vec * scalar or scalar * vec.
		if v, ok := L.Get(1).(*lua.LUserData); ok {
			if vec, ok := v.Value.(*vec2); ok {
				k := float64(L.CheckNumber(2))
				pushVec2(L, &vec2{vec.x * k, vec.y * k})
				return 1
			}
		}
		k := float64(L.CheckNumber(1))
		vec := checkVec2(L, 2)
		pushVec2(L, &vec2{vec.x * k, vec.y * k})
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, b := checkVec2(L, 1), checkVec2(L, 2)
		L.Push(lua.LBool(a.x == b.x && a.y == b.y))
		return 1
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		v := checkVec2(L, 1)
		L.Push(lua.LString(fmt.Sprintf("vec2(%g, %g)", v.x, v.y)))
		return 1
	}))
}

var vec2Methods = map[string]lua.LGFunction{
	"length": func(L *lua.LState) int {
		v := checkVec2(L, 1)
		L.Push(lua.LNumber(math.Hypot(v.x, v.y)))
		return 1
	},
	"normalized": func(L *lua.LState) int {
		v := checkVec2(L, 1)
		l := math.Hypot(v.x, v.y)
		if l == 0 {
			pushVec2(L, &vec2{})
			return 1
		}
		pushVec2(L, &vec2{v.x / l, v.y / l})
		return 1
	},
	"dot": func(L *lua.LState) int {
		a, b := checkVec2(L, 1), checkVec2(L, 2)
		L.Push(lua.LNumber(a.x*b.x + a.y*b.y))
		return 1
	},
	"distance": func(L *lua.LState) int {
		a, b := checkVec2(L, 1), checkVec2(L, 2)
		L.Push(lua.LNumber(math.Hypot(a.x-b.x, a.y-b.y)))
		return 1
	},
}
