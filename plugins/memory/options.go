package memory

import "github.com/miladsoleymani/listenmux/core"

// Option configures the in-memory client.
type Option func(*options)

type options struct {
	retention int
	logger    core.Logger
}

func defaults() options {
	return options{
		retention: 10000,
		logger:    core.NopLogger(),
	}
}

// WithRetention sets how many published messages are kept per topic for
// subscriptions created with core.Earliest. Zero disables replay.
func WithRetention(n int) Option {
	return func(o *options) { o.retention = n }
}

// WithLogger sets the client logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}
