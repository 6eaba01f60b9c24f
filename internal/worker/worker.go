package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// Execute runs one untrusted script to completion or failure, entirely inside
// the calling process. It never panics and never returns a Go error: every
// failure mode becomes envelope data. Callers other than tests should not run
// this in the host process — the supervisor exists precisely so they don't
// have to.
func Execute(source, runID, workDir string) *sandbox.Envelope {
	// The host already ran the pre-check; repeat it here as defense in depth,
	// so a worker invoked through any other path gets the same screening.
	if token, ok := sandbox.Precheck(source); !ok {
		env := sandbox.NewEnvelope()
		env.Error = sandbox.Errorf(sandbox.KindSuspiciousPattern,
			"suspicious pattern in source: %q", token)
		return env
	}

	raw := newRawResult()
	L := newState(raw)
	defer L.Close()

	fn, err := L.Load(strings.NewReader(source), chunkName)
	if err != nil {
		// Never started executing: duration stays at the -1 sentinel.
		raw.err = classifySyntax(err, source)
		return sanitize(L, raw, workDir, runID)
	}

	L.Push(fn)
	start := time.Now()
	err = L.PCall(0, 0, nil)
	raw.duration = time.Since(start).Seconds()

	if err != nil {
		raw.err = classifyRuntime(err)
	}
	return sanitize(L, raw, workDir, runID)
}

// Main is the worker-mode entry point: it reads the script from stdin, runs
// it, and writes exactly one JSON envelope to stdout — the single-producer
// end of the supervisor's result channel. Anything written to stdout besides
// the envelope would corrupt the channel, which is why the sandbox print
// never touches it.
func Main(runID, workDir string) error {
	source, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading source from stdin: %w", err)
	}

	env := Execute(string(source), runID, workDir)

	if err := json.NewEncoder(os.Stdout).Encode(env); err != nil {
		return fmt.Errorf("encoding result envelope: %w", err)
	}
	return nil
}
