package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerStdout(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), Options{ServiceName: "illbroker-test", Version: "0.0.1", Stdout: &buf})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "ill.confirm")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ill.confirm") || !strings.Contains(out, "illbroker-test") {
		t.Errorf("exported span missing name or service:\n%s", out)
	}
}
