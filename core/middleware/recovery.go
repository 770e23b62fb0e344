package middleware

import (
	"context"
	"fmt"
	"runtime"

	"github.com/miladsoleymani/listenmux/core"
)

// Recovery returns middleware that recovers from panics in listeners,
// logs the stack trace, and returns the panic as an error matching
// core.ErrListenerInvocation.
func Recovery(logger core.Logger) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, msgs []core.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					topic, id := describe(msgs)
					logger.Error("panic recovered",
						"topic", topic, "message_id", id, "panic", fmt.Sprint(r), "stack", string(buf[:n]))
					err = core.NewError(core.ErrCodeListenerInvocation, "panic recovered", fmt.Errorf("%v", r))
				}
			}()
			return next(ctx, msgs)
		}
	}
}
