package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxMemory    = 1 << 28 // 256 MB
	defaultPollInterval = 50 * time.Millisecond

	// maxStderrBytes caps captured worker stderr, which exists only for
	// diagnosing engine defects — never for script output.
	maxStderrBytes = 16 << 10
)

// Config configures the execution engine.
type Config struct {
	// WorkDir is where side-channel media files (run-<id>.png/.gif) are
	// written. Empty = current directory.
	WorkDir string

	// DefaultTimeout bounds a run's wall-clock time. Zero = 5s.
	DefaultTimeout time.Duration

	// DefaultMaxMemory bounds the worker's resident set in bytes. Zero = 256 MB.
	DefaultMaxMemory int64

	// PollInterval is the supervisor's check cadence. Zero = 50ms.
	PollInterval time.Duration

	// WorkerCommand overrides the worker argv verbatim. Empty = re-exec this
	// binary in worker mode. Used by tests to substitute a fake worker.
	WorkerCommand []string
}

// Request describes one sandboxed run.
type Request struct {
	// Source is the untrusted script body, already stripped of any
	// surrounding markup by the caller.
	Source string

	// RunID must be unique per concurrent invocation sharing a filesystem
	// namespace; it derives the side-channel media file names.
	RunID string

	// Timeout overrides the engine default. Zero = use default.
	Timeout time.Duration

	// MaxMemory overrides the engine default, in bytes. Zero = use default.
	MaxMemory int64
}

// Engine supervises worker processes from the trusted side. It never executes
// script content in its own process: every run is delegated to a spawned
// worker whose lifecycle, wall-clock age, and resident memory the engine
// polices on a fixed polling interval.
//
// Each poll iteration does a bounded amount of work and then yields, so a
// long-running script never starves the host's other goroutines.
type Engine struct {
	workDir      string
	timeout      time.Duration
	maxMemory    int64
	pollInterval time.Duration
	workerArgv   []string

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// New creates an execution engine.
func New(cfg Config, logger *slog.Logger) *Engine {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxMemory := cfg.DefaultMaxMemory
	if maxMemory == 0 {
		maxMemory = defaultMaxMemory
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}
	return &Engine{
		workDir:      cfg.WorkDir,
		timeout:      timeout,
		maxMemory:    maxMemory,
		pollInterval: interval,
		workerArgv:   cfg.WorkerCommand,
		logger:       logger,
	}
}

// WithMetrics attaches Prometheus metrics to the engine.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	e.metrics = m
	return e
}

// WithTracer attaches an OTel tracer; each run becomes one span.
func (e *Engine) WithTracer(t trace.Tracer) *Engine {
	e.tracer = t
	return e
}

// Run executes one untrusted script to a terminal outcome. Exactly one of
// {completed, timeout, memory-exceeded, internal-error} is reported per
// invocation, always as envelope data — Run returns a non-nil Go error only
// when the worker could not be spawned at all.
//
// Context cancellation is handled identically to a timeout: the worker is
// killed and a Timeout envelope is returned.
func (e *Engine) Run(ctx context.Context, req Request) (*Envelope, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	maxMemory := req.MaxMemory
	if maxMemory == 0 {
		maxMemory = e.maxMemory
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "sandbox.run",
			trace.WithAttributes(
				attribute.String("run.id", req.RunID),
				attribute.Int("source.bytes", len(req.Source)),
			))
		defer span.End()
	}

	// Static pre-check: reject known-bad patterns before spending a spawn.
	if token, ok := Precheck(req.Source); !ok {
		e.logger.Warn("pre-check rejected script",
			slog.String("run_id", req.RunID),
			slog.String("token", token),
		)
		e.metrics.observePrecheck(token)
		e.metrics.observeRun("suspicious_pattern", 0)
		env := NewEnvelope()
		env.Error = Errorf(KindSuspiciousPattern,
			"suspicious pattern in source: %q", token)
		return env, nil
	}

	start := time.Now()
	env, err := e.supervise(ctx, req, timeout, maxMemory)
	if err != nil {
		return nil, err
	}

	outcome := "completed"
	if env.Error != nil {
		outcome = string(env.Error.Kind)
	}
	e.metrics.observeRun(outcome, time.Since(start).Seconds())
	return env, nil
}

// supervise owns the worker's lifecycle: spawn, poll, kill, retrieve.
func (e *Engine) supervise(ctx context.Context, req Request, timeout time.Duration, maxMemory int64) (*Envelope, error) {
	argv := e.workerArgv
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving worker executable: %w", err)
		}
		argv = []string{exe, "worker", "--run-id", req.RunID, "--work-dir", e.workDir}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(req.Source)
	cmd.Dir = e.workDir

	// The worker must die with the host on abrupt shutdown, and a kill must
	// take out anything the worker forked alongside it.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	var stderrBuf strings.Builder
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxStderrBytes}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating worker result pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning worker: %w", err)
	}
	e.metrics.workerStarted()
	defer e.metrics.workerDone()

	spawned := time.Now()
	e.logger.Info("worker spawned",
		slog.String("run_id", req.RunID),
		slog.Int("pid", cmd.Process.Pid),
		slog.Duration("timeout", timeout),
		slog.Int64("max_memory", maxMemory),
	)

	// The result channel: single producer (worker stdout), single consumer
	// (this loop), capacity one. The drain goroutine also reaps the process,
	// so waitCh doubles as the liveness signal.
	resultCh := make(chan *Envelope, 1)
	waitCh := make(chan error, 1)
	go func() {
		var env Envelope
		if decErr := json.NewDecoder(stdout).Decode(&env); decErr == nil {
			resultCh <- &env
		}
		// Drain any trailing bytes so Wait can close the pipe.
		_, _ = io.Copy(io.Discard, stdout)
		waitCh <- cmd.Wait()
	}()

	memProbe, probeErr := process.NewProcess(int32(cmd.Process.Pid))
	if probeErr != nil {
		// Probe construction fails only when the process already exited —
		// treat as a legitimately fast finish and fall through to polling.
		memProbe = nil
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		// Yield until the next poll interval; this is the only suspension
		// point for the entire lifetime of a run.
		select {
		case <-ctx.Done():
			e.kill(cmd, waitCh, req.RunID, "canceled")
			e.metrics.observeKill("canceled")
			env := NewEnvelope()
			env.Error = Errorf(KindTimeout, "run canceled after %.2f seconds", time.Since(spawned).Seconds())
			return env, nil
		case <-ticker.C:
		}

		// Check 1: wall-clock budget.
		if time.Since(spawned) > timeout {
			e.kill(cmd, waitCh, req.RunID, "timeout")
			e.metrics.observeKill("timeout")
			env := NewEnvelope()
			env.Duration = timeout.Seconds()
			env.Error = Errorf(KindTimeout,
				"script exceeded the timeout of %g seconds", timeout.Seconds())
			return env, nil
		}

		// Check 2: resident memory budget. A probe error here means the
		// process is already gone — that is not a failure, the worker may
		// have finished legitimately in this window, so fall through to the
		// exit check instead.
		if memProbe != nil {
			if mi, err := memProbe.MemoryInfo(); err == nil && int64(mi.RSS) > maxMemory {
				e.kill(cmd, waitCh, req.RunID, "memory")
				e.metrics.observeKill("memory")
				env := NewEnvelope()
				env.Error = Errorf(KindMemoryExceeded,
					"script exceeded the memory limit of %d bytes", maxMemory)
				return env, nil
			}
		}

		// Check 3: has the worker exited with a result?
		select {
		case <-waitCh:
			select {
			case env := <-resultCh:
				e.logger.Info("worker completed",
					slog.String("run_id", req.RunID),
					slog.Float64("duration", env.Duration),
					slog.Bool("has_image", env.HasImage),
					slog.Bool("has_animation", env.HasAnimation),
				)
				return env, nil
			default:
				// Exited but produced no envelope: the sandbox itself is
				// broken, which must surface distinctly from script failures.
				e.logger.Error("worker exited without a result envelope",
					slog.String("run_id", req.RunID),
					slog.String("stderr", stderrBuf.String()),
				)
				env := NewEnvelope()
				env.Error = Errorf(KindInternal, "worker exited without producing a result")
				return env, nil
			}
		default:
		}
	}
}

// kill terminates the worker's entire process group and reaps it. The reap
// blocks until Wait returns, so the terminal envelope is always constructed
// after the worker is dead — a caller never observes a live worker alongside
// a terminal result.
func (e *Engine) kill(cmd *exec.Cmd, waitCh <-chan error, runID, reason string) {
	if cmd.Process == nil {
		return
	}
	e.logger.Warn("killing worker",
		slog.String("run_id", runID),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("reason", reason),
	)
	// Negative PID = the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	<-waitCh
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return len(p), err
}
