package worker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// chunkName is the name the script is compiled under. Error positions carry
// it, which lets the classifier tell script frames apart from engine frames —
// a reported line number always belongs to the user's own code.
const chunkName = "script"

var (
	scriptLineRe = regexp.MustCompile(`(?s)^` + chunkName + `:(\d+):\s*(.*)$`)
	parseLineRe  = regexp.MustCompile(`line:(\d+)\(column:(\d+)\)`)
)

const importBlockedMessage = "the sandbox does not support loading external modules. " +
	"Many are already provided: math, string, table, canvas, and clock are all predefined — " +
	"just use them without require."

// classifySyntax turns a compile failure into a SyntaxError descriptor with
// the offending line, the source text of that line, and a caret at the
// reported column.
func classifySyntax(err error, source string) *sandbox.Error {
	line, col := 0, 0
	message := err.Error()

	// ApiError carries the parse error in its exported Cause field; it does
	// not implement Unwrap, so walk it by hand.
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Cause != nil {
		err = apiErr.Cause
		message = err.Error()
	}

	var perr *parse.Error
	if errors.As(err, &perr) {
		line, col = perr.Pos.Line, perr.Pos.Column
		message = perr.Message
	} else if m := parseLineRe.FindStringSubmatch(message); m != nil {
		fmt.Sscanf(m[1], "%d", &line)
		fmt.Sscanf(m[2], "%d", &col)
	}

	lines := strings.Split(source, "\n")

	// Unexpected-EOF failures carry position -1. Point at the last non-empty
	// source line instead, with the caret past its end.
	if line < 1 {
		line = 1
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				line = i + 1
				break
			}
		}
		col = len(lines[line-1]) + 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "syntax error at line %d: %s", line, strings.TrimSpace(message))

	if line <= len(lines) {
		src := lines[line-1]
		b.WriteString("\n  " + src)
		if col < 1 {
			col = 1
		}
		if col > len(src)+1 {
			col = len(src) + 1
		}
		b.WriteString("\n  " + strings.Repeat(" ", col-1) + "^")
	}

	return &sandbox.Error{Kind: sandbox.KindSyntaxError, Message: b.String()}
}

// classifyRuntime turns an execution failure into an ImportBlocked or
// RuntimeError descriptor. The line number is taken from the innermost script
// frame embedded in the Lua error message; engine-internal Go frames never
// carry the script chunk name and so can never be reported.
func classifyRuntime(err error) *sandbox.Error {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		msg = lua.LVAsString(apiErr.Object)
		if msg == "" {
			msg = apiErr.Object.String()
		}
	}

	if strings.Contains(msg, importBlockedTag) {
		return &sandbox.Error{Kind: sandbox.KindImportBlocked, Message: importBlockedMessage}
	}

	if m := scriptLineRe.FindStringSubmatch(msg); m != nil {
		return sandbox.Errorf(sandbox.KindRuntimeError,
			"error at line %s: %s", m[1], strings.TrimSpace(m[2]))
	}
	return sandbox.Errorf(sandbox.KindRuntimeError, "%s", msg)
}
