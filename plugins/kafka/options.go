package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/listenmux/core"
)

// Option configures the Kafka client.
type Option func(*options)

type options struct {
	// Writer
	balancer  kafka.Balancer
	batchSize int
	async     bool

	// Reader
	minBytes       int
	maxBytes       int
	maxWait        time.Duration
	sessionTimeout time.Duration

	// General
	dialer *kafka.Dialer
	logger core.Logger
}

func defaults() options {
	return options{
		balancer:       &kafka.Hash{},
		batchSize:      100,
		minBytes:       1,
		maxBytes:       10e6, // 10 MB
		maxWait:        500 * time.Millisecond,
		sessionTimeout: 30 * time.Second,
		logger:         core.NopLogger(),
	}
}

// WithBalancer sets the partition balancer for the writer. The default
// hashes message keys so that a key always lands on the same partition.
func WithBalancer(b kafka.Balancer) Option {
	return func(o *options) { o.balancer = b }
}

// WithBatchSize sets the maximum batch size for writes.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithAsync enables asynchronous writes. Send then returns before the
// broker has the message.
func WithAsync(async bool) Option {
	return func(o *options) { o.async = async }
}

// WithMinBytes sets the minimum bytes per fetch.
func WithMinBytes(n int) Option {
	return func(o *options) { o.minBytes = n }
}

// WithMaxBytes sets the maximum bytes per fetch.
func WithMaxBytes(n int) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxWait sets the maximum wait time for fetches.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithSessionTimeout sets the consumer group session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *options) { o.sessionTimeout = d }
}

// WithDialer sets a custom dialer for TLS/SASL connections.
func WithDialer(d *kafka.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the client logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}
