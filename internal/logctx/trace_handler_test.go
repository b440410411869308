package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())

	return entry
}

func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, slog.LevelInfo).InfoContext(context.Background(), "job submitted", "format", "audio")

	entry := decodeRecord(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "job_id")
	assert.Equal(t, "job submitted", entry["msg"])
	assert.Equal(t, "audio", entry["format"])
}

func TestTraceHandler_NoopSpanIsIgnored(t *testing.T) {
	var buf bytes.Buffer

	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "noop")
	defer span.End()

	newTestLogger(&buf, slog.LevelInfo).InfoContext(ctx, "progress")

	assert.NotContains(t, decodeRecord(t, &buf), "trace_id")
}

func TestTraceHandler_WithRecordingSpan(t *testing.T) {
	var buf bytes.Buffer

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "job.run")
	defer span.End()

	newTestLogger(&buf, slog.LevelInfo).InfoContext(ctx, "download started")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandler_FixedSpanContext(t *testing.T) {
	var buf bytes.Buffer

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	newTestLogger(&buf, slog.LevelInfo).InfoContext(ctx, "status polled")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestTraceHandler_JobID(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithJobID(context.Background(), "7d1f0c1e")
	newTestLogger(&buf, slog.LevelInfo).WarnContext(ctx, "progress update rejected")

	assert.Equal(t, "7d1f0c1e", decodeRecord(t, &buf)["job_id"])

	_, ok := JobIDFromContext(WithJobID(context.Background(), ""))
	assert.False(t, ok)
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "runner")})
	require.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("unit")
	require.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).InfoContext(WithJobID(context.Background(), "abc"), "finished", "status", "completed")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "runner", entry["component"])
	assert.Contains(t, entry, "unit")
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, LoggerFromContext(WithLogger(context.Background(), l)))
}
