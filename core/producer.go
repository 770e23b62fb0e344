package core

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// OutboundMessage is a message handed to a Producer.
type OutboundMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes to a single topic. Implementations must be safe for
// concurrent use.
type Producer interface {
	Topic() string
	Send(ctx context.Context, msg OutboundMessage) (MessageID, error)
}

// ProducerFactory hands out producers bound to a topic.
type ProducerFactory interface {
	Producer(ctx context.Context, topic string, schema Schema) (Producer, error)
}

// CachingProducerFactory keeps one producer per topic and schema name so that
// containers sharing a dead-letter topic share its producer.
type CachingProducerFactory struct {
	next      ProducerFactory
	producers *xsync.Map[string, Producer]
}

// NewCachingProducerFactory wraps next with a per-topic cache.
func NewCachingProducerFactory(next ProducerFactory) *CachingProducerFactory {
	return &CachingProducerFactory{
		next:      next,
		producers: xsync.NewMap[string, Producer](),
	}
}

// Producer returns the cached producer for topic, creating it on first use.
func (f *CachingProducerFactory) Producer(ctx context.Context, topic string, schema Schema) (Producer, error) {
	key := SchemaOrDefault(schema).Name() + "|" + topic
	if p, ok := f.producers.Load(key); ok {
		return p, nil
	}
	p, err := f.next.Producer(ctx, topic, schema)
	if err != nil {
		return nil, err
	}
	actual, _ := f.producers.LoadOrStore(key, p)
	return actual, nil
}

// Len returns the number of cached producers.
func (f *CachingProducerFactory) Len() int {
	return f.producers.Size()
}
