// Package sandbox implements the trusted side of the script execution engine:
// the static pre-check, the worker supervisor, and the sanitized result
// envelope that is the only data allowed back across the process boundary.
package sandbox

import "fmt"

// ErrorKind classifies a sandboxed run failure.
type ErrorKind string

const (
	// KindSuspiciousPattern — the source matched the static denylist; no worker was spawned.
	KindSuspiciousPattern ErrorKind = "suspicious_pattern"
	// KindImportBlocked — the script attempted to load external code.
	KindImportBlocked ErrorKind = "import_blocked"
	// KindSyntaxError — the script failed to parse.
	KindSyntaxError ErrorKind = "syntax_error"
	// KindRuntimeError — the script raised during execution.
	KindRuntimeError ErrorKind = "runtime_error"
	// KindTimeout — the supervisor killed the worker for exceeding its time budget.
	KindTimeout ErrorKind = "timeout"
	// KindMemoryExceeded — the supervisor killed the worker for exceeding its memory budget.
	KindMemoryExceeded ErrorKind = "memory_exceeded"
	// KindBadDelay — the script set a non-numeric animation frame delay.
	KindBadDelay ErrorKind = "bad_delay"
	// KindBadLoopCount — the script set a non-numeric animation loop count.
	KindBadLoopCount ErrorKind = "bad_loop_count"
	// KindInternal — an engine-side defect, not a script failure. Logged at
	// Error severity so operators can tell "the sandbox is broken" apart from
	// "the script misbehaved".
	KindInternal ErrorKind = "internal_error"
)

// Error is a classified, transportable run failure. It is data, never a Go
// error that propagates out of the engine.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a classified Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Envelope is the sanitized result of one sandboxed run. It is the only
// structure that crosses the worker→supervisor pipe, and it deliberately
// holds nothing but strings, bools, and floats: rendered media never travels
// inside the envelope. Instead the worker writes run-<id>.png / run-<id>.gif
// as side-channel files and the envelope carries presence flags. The caller
// owns those files once the run returns and must delete them after use.
type Envelope struct {
	// Text is the accumulated print output, in call order, possibly partial
	// when the run failed or was killed mid-execution.
	Text string `json:"text"`

	// HasImage signals that run-<id>.png exists in the engine work dir.
	HasImage bool `json:"has_image"`

	// HasAnimation signals that run-<id>.gif exists in the engine work dir.
	HasAnimation bool `json:"has_animation"`

	// Error is nil on a clean run. Partial Text may accompany a non-nil Error.
	Error *Error `json:"error,omitempty"`

	// Duration is wall-clock seconds spent inside the script itself,
	// excluding spawn and teardown. -1 means execution never started.
	Duration float64 `json:"duration"`
}

// NewEnvelope returns an envelope with the "not measured" duration sentinel.
func NewEnvelope() *Envelope {
	return &Envelope{Duration: -1}
}

// ImageFile returns the side-channel still-image filename for a run ID.
func ImageFile(runID string) string {
	return fmt.Sprintf("run-%s.png", runID)
}

// AnimationFile returns the side-channel animation filename for a run ID.
func AnimationFile(runID string) string {
	return fmt.Sprintf("run-%s.gif", runID)
}
