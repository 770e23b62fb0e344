package redelivery

import (
	"context"
	"fmt"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/miladsoleymani/listenmux/core"
)

// Headers added to dead-lettered messages.
const (
	HeaderRealTopic       = "REAL_TOPIC"
	HeaderOriginMessageID = "ORIGIN_MESSAGE_ID"
	HeaderRedeliveryCount = "REDELIVERY_COUNT"
)

// Policy decides when a failing message stops being redelivered.
type Policy struct {
	// MaxRedeliverCount is the number of attempts a message gets before it is
	// dead-lettered.
	MaxRedeliverCount int

	// DeadLetterTopic receives routed messages. When empty it is derived as
	// "<topic>-<subscription>-DLQ".
	DeadLetterTopic string
}

// Validate checks that MaxRedeliverCount is positive and that the topic is
// not a pattern.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxRedeliverCount, validation.Required, validation.Min(1)),
		validation.Field(&p.DeadLetterTopic, validation.By(notPattern)),
	)
}

func notPattern(value any) error {
	s, _ := value.(string)
	if core.IsPattern(s) {
		return fmt.Errorf("must not contain wildcards")
	}
	return nil
}

// ShouldRoute reports whether a message on its attempt-th delivery has
// exhausted its redeliveries.
func (p Policy) ShouldRoute(attempt int) bool {
	return attempt > p.MaxRedeliverCount
}

// Router republishes exhausted messages to the dead-letter topic and
// acknowledges them on their source subscription.
type Router struct {
	policy       Policy
	subscription string
	producers    core.ProducerFactory
	schema       core.Schema
	logger       core.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSchema sets the schema the dead-letter producer is created with.
func WithSchema(s core.Schema) RouterOption {
	return func(r *Router) { r.schema = s }
}

// WithLogger sets the router logger.
func WithLogger(l core.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router for one subscription. Producers are cached per
// topic.
func NewRouter(policy Policy, subscription string, producers core.ProducerFactory, opts ...RouterOption) (*Router, error) {
	if err := policy.Validate(); err != nil {
		return nil, core.NewError(core.ErrCodeConfiguration, "invalid dead-letter policy", err)
	}
	if producers == nil {
		return nil, core.NewError(core.ErrCodeConfiguration, "dead-letter router requires a producer factory", nil)
	}
	r := &Router{
		policy:       policy,
		subscription: subscription,
		producers:    core.NewCachingProducerFactory(producers),
		schema:       core.BytesSchema{},
		logger:       core.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Policy returns the router's policy.
func (r *Router) Policy() Policy { return r.policy }

// ShouldRoute reports whether attempt exceeds the policy threshold.
func (r *Router) ShouldRoute(attempt int) bool { return r.policy.ShouldRoute(attempt) }

// Topic returns the dead-letter topic for msg.
func (r *Router) Topic(msg core.Message) string {
	if r.policy.DeadLetterTopic != "" {
		return r.policy.DeadLetterTopic
	}
	return msg.Topic() + "-" + r.subscription + "-DLQ"
}

// Route republishes msg to the dead-letter topic, then acknowledges it on
// consumer. A failed republish leaves msg unacknowledged and returns an error
// matching core.ErrDeadLetterRouting.
func (r *Router) Route(ctx context.Context, consumer core.Consumer, msg core.Message) error {
	topic := r.Topic(msg)
	p, err := r.producers.Producer(ctx, topic, r.schema)
	if err != nil {
		return core.NewError(core.ErrCodeDeadLetterRouting, fmt.Sprintf("producer for %q", topic), err)
	}

	headers := make(map[string]string, len(msg.Headers())+3)
	for k, v := range msg.Headers() {
		headers[k] = v
	}
	headers[HeaderRealTopic] = msg.Topic()
	headers[HeaderOriginMessageID] = string(msg.ID())
	headers[HeaderRedeliveryCount] = strconv.Itoa(msg.RedeliveryCount())

	id, err := p.Send(ctx, core.OutboundMessage{Key: msg.Key(), Value: msg.Value(), Headers: headers})
	if err != nil {
		return core.NewError(core.ErrCodeDeadLetterRouting, fmt.Sprintf("republish %s to %q", msg.ID(), topic), err)
	}
	if err := consumer.Ack(ctx, msg); err != nil {
		return core.NewError(core.ErrCodeAcknowledge, fmt.Sprintf("ack dead-lettered %s", msg.ID()), err)
	}

	r.logger.Info("message dead-lettered",
		"subscription", r.subscription,
		"message_id", msg.ID(),
		"dead_letter_topic", topic,
		"dead_letter_id", id,
		"attempt", core.Attempt(msg),
	)
	return nil
}
