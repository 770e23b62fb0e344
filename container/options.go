package container

import (
	"time"

	"github.com/google/uuid"

	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/redelivery"
)

// Option configures a container.
type Option func(*options)

type options struct {
	id                  string
	logger              core.Logger
	metrics             MetricsCollector
	backoff             redelivery.Backoff
	deadLetter          *redelivery.Policy
	router              *redelivery.Router
	producers           core.ProducerFactory
	middleware          []core.Middleware
	receiveErrorBackoff time.Duration
}

func defaults() options {
	return options{
		logger:              core.NopLogger(),
		metrics:             NopMetrics{},
		receiveErrorBackoff: time.Second,
	}
}

// WithID sets the container id. Defaults to the subscription name plus a
// random suffix.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithBackoff sets the negative-acknowledgment delay policy. Without it the
// broker default delay applies.
func WithBackoff(b redelivery.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithDeadLetterPolicy enables dead-letter routing. Dead-lettered messages are
// published through the producer factory set by WithProducerFactory, or the
// container's client.
func WithDeadLetterPolicy(p redelivery.Policy) Option {
	return func(o *options) { o.deadLetter = &p }
}

// WithDeadLetterRouter installs a prebuilt router; it takes precedence over
// WithDeadLetterPolicy.
func WithDeadLetterRouter(r *redelivery.Router) Option {
	return func(o *options) { o.router = r }
}

// WithProducerFactory sets the factory used for dead-letter producers.
func WithProducerFactory(f core.ProducerFactory) Option {
	return func(o *options) { o.producers = f }
}

// WithMiddleware appends listener middleware.
func WithMiddleware(mws ...core.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mws...) }
}

// WithReceiveErrorBackoff sets the pause after a failed receive.
func WithReceiveErrorBackoff(d time.Duration) Option {
	return func(o *options) { o.receiveErrorBackoff = d }
}

func resolveOptions(client core.Client, props Properties, fns []Option) (options, error) {
	o := defaults()
	for _, fn := range fns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = core.NopLogger()
	}
	if o.metrics == nil {
		o.metrics = NopMetrics{}
	}
	if o.receiveErrorBackoff <= 0 {
		return options{}, core.NewError(core.ErrCodeConfiguration, "receive error backoff must be positive", nil)
	}
	if o.id == "" {
		o.id = props.SubscriptionName + "-" + uuid.NewString()[:8]
	}
	if o.router == nil && o.deadLetter != nil {
		producers := o.producers
		if producers == nil {
			producers = client
		}
		r, err := redelivery.NewRouter(*o.deadLetter, props.SubscriptionName, producers,
			redelivery.WithSchema(props.Schema),
			redelivery.WithLogger(o.logger),
		)
		if err != nil {
			return options{}, err
		}
		o.router = r
	}
	return o, nil
}
