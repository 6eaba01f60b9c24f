package sandbox

import "strings"

// denylist holds identifiers whose mere presence in a script is grounds for
// rejection before any worker is spawned: metatable and environment
// manipulation, code loading, the debug surface, and process/filesystem
// escapes. This is an intentionally cheap substring scan, a heuristic layer
// in front of the capability surface rather than a security boundary of its
// own. Obfuscated access to the same primitives still dies inside the worker,
// where none of these names resolve to anything. Plain import attempts
// (require) are deliberately absent: those reach the worker so the user gets
// the friendlier import-blocked explanation.
var denylist = []string{
	"getmetatable",
	"setmetatable",
	"rawget",
	"rawset",
	"rawequal",
	"getfenv",
	"setfenv",
	"loadstring",
	"loadfile",
	"dofile",
	"load(",
	"collectgarbage",
	"string.dump",
	"debug.",
	"package.",
	"io.",
	"os.execute",
	"os.exit",
	"os.remove",
	"os.getenv",
	"newproxy",
}

// Precheck scans raw source text for denylisted tokens. It returns the first
// matching token and false when the source must be rejected.
func Precheck(source string) (token string, ok bool) {
	for _, tok := range denylist {
		if strings.Contains(source, tok) {
			return tok, false
		}
	}
	return "", true
}
