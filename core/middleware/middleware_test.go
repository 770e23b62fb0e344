package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/core/middleware"
	"github.com/miladsoleymani/listenmux/internal/mock"
	"github.com/miladsoleymani/listenmux/logging"
)

func observed() (core.Logger, *observer.ObservedLogs) {
	obs, logs := observer.New(zapcore.DebugLevel)
	return logging.NewZap(zap.New(obs)), logs
}

func msgs() []core.Message {
	return []core.Message{&mock.Message{MsgID: "orders:1", T: "orders", K: []byte("test-key"), V: []byte("val")}}
}

func TestLogging(t *testing.T) {
	logger, logs := observed()

	handler := middleware.Logging(logger)(func(ctx context.Context, _ []core.Message) error {
		return nil
	})
	require.NoError(t, handler(context.Background(), msgs()))

	entries := logs.FilterMessage("listener ok").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "orders", entries[0].ContextMap()["topic"])
}

func TestLogging_Error(t *testing.T) {
	logger, logs := observed()

	handler := middleware.Logging(logger)(func(ctx context.Context, _ []core.Message) error {
		return errors.New("boom")
	})
	assert.EqualError(t, handler(context.Background(), msgs()), "boom")

	entries := logs.FilterMessage("listener failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestRecovery(t *testing.T) {
	logger, logs := observed()

	handler := middleware.Recovery(logger)(func(ctx context.Context, _ []core.Message) error {
		panic("test panic")
	})

	err := handler(context.Background(), msgs())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrListenerInvocation)
	assert.Contains(t, err.Error(), "test panic")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecovery_NoPanic(t *testing.T) {
	logger, logs := observed()

	handler := middleware.Recovery(logger)(func(ctx context.Context, _ []core.Message) error {
		return nil
	})

	require.NoError(t, handler(context.Background(), msgs()))
	assert.Zero(t, logs.Len())
}

type recordingCollector struct {
	topic string
	size  int
	dur   time.Duration
	err   error
	calls int
}

func (r *recordingCollector) MessageProcessed(topic string, size int, d time.Duration, err error) {
	r.topic, r.size, r.dur, r.err = topic, size, d, err
	r.calls++
}

func TestMetrics(t *testing.T) {
	c := &recordingCollector{}
	boom := errors.New("boom")

	handler := middleware.Metrics(c)(func(ctx context.Context, _ []core.Message) error {
		time.Sleep(5 * time.Millisecond)
		return boom
	})
	_ = handler(context.Background(), msgs())

	assert.Equal(t, 1, c.calls)
	assert.Equal(t, "orders", c.topic)
	assert.Equal(t, 1, c.size)
	assert.ErrorIs(t, c.err, boom)
	assert.GreaterOrEqual(t, c.dur, 5*time.Millisecond)
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var inner context.Context
	ok := middleware.Tracing(tp.Tracer("test"))(func(ctx context.Context, _ []core.Message) error {
		inner = ctx
		return nil
	})
	failing := middleware.Tracing(tp.Tracer("test"))(func(ctx context.Context, _ []core.Message) error {
		return errors.New("boom")
	})

	require.NoError(t, ok(context.Background(), msgs()))
	require.Error(t, failing(context.Background(), msgs()))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "listenmux.listener", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("messaging.destination.name", "orders"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.True(t, spans[0].SpanContext().IsValid())
	assert.Equal(t, spans[0].SpanContext().SpanID(), trace.SpanContextFromContext(inner).SpanID())
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) core.Middleware {
		return func(next core.Handler) core.Handler {
			return func(ctx context.Context, m []core.Message) error {
				order = append(order, name+":before")
				err := next(ctx, m)
				order = append(order, name+":after")
				return err
			}
		}
	}

	h := core.Chain(func(context.Context, []core.Message) error {
		order = append(order, "handler")
		return nil
	}, mw("A"), mw("B"))
	require.NoError(t, h(context.Background(), msgs()))

	assert.Equal(t, []string{"A:before", "B:before", "handler", "B:after", "A:after"}, order)
}
