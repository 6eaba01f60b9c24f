package observability

import (
	"context"
	"testing"

	"github.com/jkaninda/scriptbox/internal/config"
)

func TestNew_NilConfigDisablesEverything(t *testing.T) {
	obs, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil): %v", err)
	}
	if obs != nil {
		t.Fatalf("expected nil Observability, got %+v", obs)
	}
	// Nil receivers must be safe.
	if obs.SandboxMetrics() != nil {
		t.Error("nil obs should return nil metrics")
	}
	if obs.TracerOrNil() != nil {
		t.Error("nil obs should return nil tracer")
	}
	obs.Shutdown(context.Background())
}

func TestNew_MetricsOnly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs.Registry == nil || obs.SandboxMetrics() == nil {
		t.Error("metrics should be initialized")
	}
	if obs.TracerOrNil() != nil {
		t.Error("tracing should stay disabled")
	}
	// Go runtime collectors are registered; gathering must succeed.
	if _, err := obs.Registry.Gather(); err != nil {
		t.Errorf("Gather: %v", err)
	}
}

func TestTracerSetup_NilIsNoop(t *testing.T) {
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Error("nil setup should return a noop tracer, not nil")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil: %v", err)
	}
}
