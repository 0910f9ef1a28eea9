package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =skip,tenant=delphor")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "delphor" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestWithEnvOverlaysExporterSettings(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "tenant=dev")
	t.Setenv("OTEL_SERVICE_NAME", "")

	base := Config{ServiceName: "delphord", Headers: map[string]string{"region": "eu"}}
	cfg := base.WithEnv()
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure {
		t.Fatalf("unexpected endpoint %q insecure=%v", cfg.Endpoint, cfg.Insecure)
	}
	if !cfg.Traces || !cfg.Metrics {
		t.Fatalf("env endpoint should enable both signals")
	}
	if cfg.Headers["tenant"] != "dev" || cfg.Headers["region"] != "eu" {
		t.Fatalf("unexpected headers %v", cfg.Headers)
	}
	if _, ok := base.Headers["tenant"]; ok {
		t.Fatalf("WithEnv mutated the caller's headers")
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "delphord"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected service name error")
	}
}
