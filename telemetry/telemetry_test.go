package telemetry_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/becomeliminal/friday/telemetry"
	"github.com/m-mizutani/gt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestSetup_LogsEndedSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	shutdown, err := telemetry.Setup(ctx, "", telemetry.NewLogExporter(logger))
	gt.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "memory.save")
	span.SetAttributes(attribute.Int("records", 3))
	span.End()

	gt.NoError(t, shutdown(ctx))
	gt.S(t, buf.String()).Contains("span=memory.save")
	gt.S(t, buf.String()).Contains("records=3")
}
