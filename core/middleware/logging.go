package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/listenmux/core"
)

// Logging returns middleware that logs listener duration and errors.
// Successful calls are logged at debug level, failures at warn level.
func Logging(logger core.Logger) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msgs []core.Message) error {
			start := time.Now()
			err := next(ctx, msgs)
			elapsed := time.Since(start)

			topic, id := describe(msgs)
			if err != nil {
				logger.Warn("listener failed",
					"topic", topic, "message_id", id, "messages", len(msgs), "elapsed", elapsed, "error", err)
			} else {
				logger.Debug("listener ok",
					"topic", topic, "message_id", id, "messages", len(msgs), "elapsed", elapsed)
			}
			return err
		}
	}
}

// describe returns the topic and id of the first message.
func describe(msgs []core.Message) (topic string, id core.MessageID) {
	if len(msgs) == 0 {
		return "", ""
	}
	return msgs[0].Topic(), msgs[0].ID()
}
