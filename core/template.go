package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoTopic is returned by Template.Send when no default topic is configured.
var ErrNoTopic = errors.New("listenmux: no topic specified and no default topic configured")

// Template is a convenience send path: it encodes values with a Schema and
// publishes them through producers obtained from a ProducerFactory.
type Template struct {
	producers    ProducerFactory
	schema       Schema
	defaultTopic string
}

// SendResult is delivered by SendAsync once the send completes.
type SendResult struct {
	ID  MessageID
	Err error
}

// NewTemplate creates a Template. A nil schema means BytesSchema; defaultTopic
// may be empty when every send names its topic.
func NewTemplate(producers ProducerFactory, schema Schema, defaultTopic string) *Template {
	return &Template{
		producers:    NewCachingProducerFactory(producers),
		schema:       SchemaOrDefault(schema),
		defaultTopic: defaultTopic,
	}
}

// Send publishes v to the default topic.
func (t *Template) Send(ctx context.Context, v any) (MessageID, error) {
	return t.SendMessage(ctx, "", nil, v, nil)
}

// SendTo publishes v to topic.
func (t *Template) SendTo(ctx context.Context, topic string, v any) (MessageID, error) {
	return t.SendMessage(ctx, topic, nil, v, nil)
}

// SendMessage publishes v with an optional key and headers. An empty topic
// selects the default topic.
func (t *Template) SendMessage(ctx context.Context, topic string, key []byte, v any, headers map[string]string) (MessageID, error) {
	if topic == "" {
		topic = t.defaultTopic
	}
	if topic == "" {
		return "", ErrNoTopic
	}
	payload, err := t.schema.Encode(v)
	if err != nil {
		return "", fmt.Errorf("listenmux: encode for %q: %w", topic, err)
	}
	p, err := t.producers.Producer(ctx, topic, t.schema)
	if err != nil {
		return "", fmt.Errorf("listenmux: producer for %q: %w", topic, err)
	}
	id, err := p.Send(ctx, OutboundMessage{Key: key, Value: payload, Headers: headers})
	if err != nil {
		return "", fmt.Errorf("listenmux: send to %q: %w", topic, err)
	}
	return id, nil
}

// SendAsync publishes v in the background. The returned channel receives
// exactly one result and is then closed.
func (t *Template) SendAsync(ctx context.Context, topic string, v any) <-chan SendResult {
	out := make(chan SendResult, 1)
	go func() {
		defer close(out)
		id, err := t.SendMessage(ctx, topic, nil, v, nil)
		out <- SendResult{ID: id, Err: err}
	}()
	return out
}
