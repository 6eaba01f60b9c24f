package httpapi

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/scriptbox/internal/history"
	"github.com/jkaninda/scriptbox/internal/sandbox"
)

const defaultMaxSourceBytes = 64 << 10

// ExecRequest is the JSON body for POST /v1/exec.
type ExecRequest struct {
	Source         string  `json:"source"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`  // 0 = engine default.
	MaxMemoryBytes int64   `json:"max_memory_bytes,omitempty"` // 0 = engine default.
}

// ExecError mirrors a classified sandbox failure in the response.
type ExecError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExecResponse is the JSON response for POST /v1/exec. Rendered media is
// inlined base64-encoded; the side-channel files are deleted before the
// response is written.
type ExecResponse struct {
	RunID     string     `json:"run_id"`
	Text      string     `json:"text"`
	Error     *ExecError `json:"error,omitempty"`
	Duration  float64    `json:"duration"`
	ImagePNG  string     `json:"image_png,omitempty"`     // base64
	Animation string     `json:"animation_gif,omitempty"` // base64
}

func (g *Gateway) handleExec(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ExecRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("source is required")
	}
	if req.Source == "" {
		return c.AbortBadRequest("source is required")
	}
	maxSource := g.config.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = defaultMaxSourceBytes
	}
	if len(req.Source) > maxSource {
		return c.AbortBadRequest("source exceeds size limit")
	}

	correlationID := newCorrelationID()
	runID := newRunID()

	g.logger.Info("http exec",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("run_id", runID),
		slog.Int("source_bytes", len(req.Source)),
	)

	env, err := g.engine.Run(c.Context(), sandbox.Request{
		Source:    req.Source,
		RunID:     runID,
		Timeout:   time.Duration(req.TimeoutSeconds * float64(time.Second)),
		MaxMemory: req.MaxMemoryBytes,
	})
	if err != nil {
		g.logger.Error("sandbox run failed",
			slog.String("correlation_id", correlationID),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("execution failed")
	}

	if g.store != nil {
		if recErr := g.store.Record(c.Context(), runID, userID, req.Source, env); recErr != nil {
			// History is best-effort; the run result still goes back to the caller.
			g.logger.Error("recording run failed",
				slog.String("run_id", runID),
				slog.String("error", recErr.Error()),
			)
		}
	}

	resp := ExecResponse{
		RunID:    runID,
		Text:     env.Text,
		Duration: env.Duration,
	}
	if env.Error != nil {
		resp.Error = &ExecError{Kind: string(env.Error.Kind), Message: env.Error.Message}
	}
	if env.HasImage {
		resp.ImagePNG = g.consumeMedia(runID, sandbox.ImageFile(runID))
	}
	if env.HasAnimation {
		resp.Animation = g.consumeMedia(runID, sandbox.AnimationFile(runID))
	}

	return c.OK(resp)
}

// consumeMedia reads a side-channel media file, deletes it, and returns the
// base64 payload. The caller-owns-the-file contract ends here: whatever
// happens, the file does not outlive the response.
func (g *Gateway) consumeMedia(runID, name string) string {
	path := filepath.Join(g.config.WorkDir, name)
	data, err := os.ReadFile(path)
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		g.logger.Warn("could not remove media file",
			slog.String("path", path),
			slog.String("error", rmErr.Error()),
		)
	}
	if err != nil {
		g.logger.Error("could not read media file",
			slog.String("run_id", runID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// RunRecord is the JSON shape of one recorded run.
type RunRecord struct {
	RunID        string  `json:"run_id"`
	SourceSHA256 string  `json:"source_sha256"`
	SourceBytes  int     `json:"source_bytes"`
	Text         string  `json:"text"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	HasImage     bool    `json:"has_image"`
	HasAnimation bool    `json:"has_animation"`
	Duration     float64 `json:"duration"`
	CreatedAt    string  `json:"created_at"`
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	userID := c.GetString("userID")

	runs, err := g.store.ListRecent(c.Context(), userID, 50)
	if err != nil {
		g.logger.Error("listing runs failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing runs failed")
	}

	resp := make([]RunRecord, len(runs))
	for i, r := range runs {
		resp[i] = toRunRecord(&r)
	}
	return c.OK(resp)
}

func (g *Gateway) handleRunGet(c *okapi.Context) error {
	userID := c.GetString("userID")

	run, err := g.store.Get(c.Context(), c.Param("id"))
	if err != nil || run.UserID != userID {
		// Hide other users' runs behind the same 404.
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}
	rec := toRunRecord(run)
	return c.OK(rec)
}

func toRunRecord(r *history.Run) RunRecord {
	return RunRecord{
		RunID:        r.RunID,
		SourceSHA256: r.SourceSHA256,
		SourceBytes:  r.SourceBytes,
		Text:         r.Text,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		HasImage:     r.HasImage,
		HasAnimation: r.HasAnimation,
		Duration:     r.Duration,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
}
