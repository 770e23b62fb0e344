package nats

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/listenmux/core"
)

// Option configures the NATS client.
type Option func(*options)

type options struct {
	// Connection
	name        string
	dialTimeout time.Duration
	connOpts    []nats.Option

	// Stream
	stream    string
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy
	storage   jetstream.StorageType

	// Consumer
	ackWait    time.Duration
	maxDeliver int
	prefetch   int

	logger core.Logger
}

func defaults() options {
	return options{
		dialTimeout: 2 * time.Second,
		stream:      "LISTENMUX",
		maxMsgs:     -1, // unlimited
		maxBytes:    -1,
		maxAge:      0,
		replicas:    1,
		retention:   jetstream.LimitsPolicy,
		storage:     jetstream.FileStorage,
		ackWait:     30 * time.Second,
		maxDeliver:  -1, // redelivery is bounded by the container's dead-letter policy
		prefetch:    64,
		logger:      core.NopLogger(),
	}
}

// WithName sets the connection name reported to the server.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDialTimeout bounds the initial connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithConnectOptions passes extra options to nats.Connect.
func WithConnectOptions(opts ...nats.Option) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

// WithStream sets the name of the stream that holds every topic.
func WithStream(name string) Option {
	return func(o *options) { o.stream = name }
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithStorage sets the stream storage type (file or memory).
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.storage = s }
}

// WithAckWait sets how long the server waits for an ack before redelivering
// when the subscription does not set an ack timeout.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the server-side maximum number of delivery attempts.
// The default is unlimited.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}

// WithPrefetch sets how many messages a consumer pulls ahead of Receive.
func WithPrefetch(n int) Option {
	return func(o *options) { o.prefetch = n }
}

// WithLogger sets the client logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}
