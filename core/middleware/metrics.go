package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/listenmux/core"
)

// MetricsCollector is the interface that metrics backends must implement.
// This keeps the middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// MessageProcessed records one listener call. topic is the topic of the
	// first message, batchSize the number of messages passed, and err is nil
	// on success.
	MessageProcessed(topic string, batchSize int, duration time.Duration, err error)
}

// Metrics returns middleware that reports listener calls to the given collector.
func Metrics(collector MetricsCollector) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msgs []core.Message) error {
			start := time.Now()
			err := next(ctx, msgs)
			topic, _ := describe(msgs)
			collector.MessageProcessed(topic, len(msgs), time.Since(start), err)
			return err
		}
	}
}
