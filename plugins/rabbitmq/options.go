package rabbitmq

import (
	"time"

	"github.com/miladsoleymani/listenmux/core"
)

// Option configures the RabbitMQ client.
type Option func(*options)

// Queue types accepted by WithQueueType.
const (
	QueueClassic = "classic"
	QueueQuorum  = "quorum"
)

type options struct {
	// Exchange settings
	exchange string

	// Queue settings
	queueType  string
	durable    bool
	autoDelete bool

	// Consumer settings
	prefetchCount int

	// Connection settings
	connectionName string
	dialTimeout    time.Duration

	logger core.Logger
}

func defaults() options {
	return options{
		exchange:      "listenmux",
		queueType:     QueueClassic,
		durable:       true,
		prefetchCount: 10,
		dialTimeout:   30 * time.Second,
		logger:        core.NopLogger(),
	}
}

// WithExchange sets the topic exchange topics are published to.
func WithExchange(name string) Option {
	return func(o *options) { o.exchange = name }
}

// WithQueueType selects classic or quorum subscription queues. Quorum queues
// count deliveries, which gives accurate redelivery counts.
func WithQueueType(kind string) Option {
	return func(o *options) { o.queueType = kind }
}

// WithDurable controls whether queues survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithPrefetchCount sets how many messages are delivered before requiring ack.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithAutoDelete causes the queue to be deleted when the last consumer disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}

// WithConnectionName sets the name shown for the connection in the
// management UI.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithDialTimeout bounds the TCP connect and AMQP handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}
