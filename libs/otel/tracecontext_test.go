package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tc := TraceContext{Parent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}

	got := CaptureTraceContext(tc.Into(context.Background()))
	if got.Parent != tc.Parent {
		t.Fatalf("expected %q, got %q", tc.Parent, got.Parent)
	}
	if !CaptureTraceContext(context.Background()).Empty() {
		t.Fatal("expected no trace context without a span")
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "")
	cfg, err := ConfigFromEnv("booking-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enabled || cfg.SampleRatio != 1 || !cfg.Insecure {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestConfigFromEnvRejectsBadRatio(t *testing.T) {
	t.Setenv("OTEL_SAMPLING_RATIO", "1.5")
	if _, err := ConfigFromEnv("booking-service"); err == nil {
		t.Fatal("expected error for ratio above 1")
	}
}

func TestSetupDisabledInstallsPropagator(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	shutdown, err := Setup(context.Background(), Config{ServiceName: "booking-service"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	tc := TraceContext{Parent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	if got := CaptureTraceContext(tc.Into(context.Background())); got.Parent != tc.Parent {
		t.Fatalf("propagator not installed, got %q", got.Parent)
	}
}
