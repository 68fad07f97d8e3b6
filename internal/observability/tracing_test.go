package observability

import (
	"context"
	"testing"

	"github.com/signalsfoundry/groundlink/internal/logging"
)

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	cfg := TracingConfig{Enabled: true, Exporter: "jaeger"}
	if _, err := InitTracing(context.Background(), cfg, logging.Noop()); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}
