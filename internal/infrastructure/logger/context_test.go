package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx), "no-op logger when absent")

	log := zap.NewExample()
	assert.Same(t, log, FromContext(WithContext(ctx, log)))

	wrong := context.WithValue(ctx, loggerKey, "not a logger")
	assert.NotNil(t, FromContext(wrong))
}

func TestRequestAndAccountIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, AccountID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAccountID(ctx, "acct-1")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "acct-1", AccountID(ctx))
}

func TestFields(t *testing.T) {
	t.Run("empty context", func(t *testing.T) {
		assert.Empty(t, Fields(context.Background()))
	})

	t.Run("ids and trace", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()
		ctx = WithAccountID(WithRequestID(ctx, "req-1"), "acct-1")

		fields := Fields(ctx)
		keys := make(map[string]string, len(fields))
		for _, f := range fields {
			keys[f.Key] = f.String
		}
		assert.Equal(t, "req-1", keys["request_id"])
		assert.Equal(t, "acct-1", keys["account_id"])
		assert.Equal(t, span.SpanContext().TraceID().String(), keys["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), keys["span_id"])
	})
}

func TestL(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core))
	ctx = WithAccountID(ctx, "acct-9")

	L(ctx).Info("reserved", zap.Int64("minutes", 3))

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "acct-9", fields["account_id"])
	assert.Equal(t, int64(3), fields["minutes"])
	assert.NotContains(t, fields, "request_id")
}
