package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestNewLogHandler(t *testing.T) {
	t.Parallel()

	t.Run("writes json records", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		logger := slog.New(newLogHandler(buf, slog.LevelInfo))
		logger.Info("Server listening", "address", ":8080")

		record := decodeLine(t, buf)
		assert.Equal(t, "INFO", record["level"])
		assert.Equal(t, "Server listening", record["msg"])
		assert.Equal(t, ":8080", record["address"])
		assert.NotContains(t, record, "trace_id")
	})

	t.Run("filters below the level", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		logger := slog.New(newLogHandler(buf, slog.LevelWarn))
		logger.Info("dropped")
		assert.Zero(t, buf.Len())
	})

	t.Run("adds span context", func(t *testing.T) {
		t.Parallel()

		tp := sdktrace.NewTracerProvider()
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		buf := &bytes.Buffer{}
		logger := slog.New(newLogHandler(buf, slog.LevelInfo)).With("component", "api")
		logger.InfoContext(ctx, "Loaded source")

		record := decodeLine(t, buf)
		assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])
		assert.Equal(t, "api", record["component"])
	})
}
