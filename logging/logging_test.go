package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/becomeliminal/friday/logging"
	"github.com/m-mizutani/gt"
)

func TestParseLevel(t *testing.T) {
	gt.Equal(t, logging.ParseLevel("debug"), slog.LevelDebug)
	gt.Equal(t, logging.ParseLevel("WARNING"), slog.LevelWarn)
	gt.Equal(t, logging.ParseLevel("error"), slog.LevelError)
	gt.Equal(t, logging.ParseLevel("nonsense"), slog.LevelInfo)
}

func TestNewRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, "warn", "json")

	logger.Info("quiet message")
	logger.Warn("loud message", "key", "value")

	gt.S(t, buf.String()).NotContains("quiet message")
	gt.S(t, buf.String()).Contains("loud message")
	gt.S(t, buf.String()).Contains(`"key":"value"`)
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(buf, "debug", "json")

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Debug("from context")
	gt.S(t, buf.String()).Contains("from context")

	gt.V(t, logging.From(context.Background())).Equal(logging.Default())
}
