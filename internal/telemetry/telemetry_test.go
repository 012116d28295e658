package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_WritesSpansOnCleanup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	cleanup, err := Init(context.Background(), dir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "generate")
	span.End()
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "proxy_traces.log"))
	if err != nil {
		t.Fatalf("Expected trace file: %v", err)
	}
	if !strings.Contains(string(data), `"generate"`) {
		t.Errorf("Expected span in trace file, got: %s", data)
	}
	if !strings.Contains(string(data), serviceName) {
		t.Error("Expected service name resource attribute")
	}
}
