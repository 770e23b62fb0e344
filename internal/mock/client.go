package mock

import (
	"context"
	"sync"

	"github.com/miladsoleymani/listenmux/core"
)

// Client is a test double for core.Client.
type Client struct {
	*ProducerFactory

	mu        sync.Mutex
	consumers []*Consumer
	batch     map[*Consumer]*BatchConsumer
	closed    bool

	// SubscribeErr fails every Subscribe call.
	SubscribeErr error

	// Block makes Subscribe wait until its context is done or the channel
	// is closed.
	Block chan struct{}

	// BatchAck makes Subscribe return *BatchConsumer values.
	BatchAck bool
}

// NewClient returns a Client with an empty ProducerFactory.
func NewClient() *Client {
	return &Client{ProducerFactory: NewProducerFactory()}
}

func (c *Client) Subscribe(ctx context.Context, opts core.SubscribeOptions) (core.Consumer, error) {
	c.mu.Lock()
	block, subErr, batch := c.Block, c.SubscribeErr, c.BatchAck
	c.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	if subErr != nil {
		return nil, subErr
	}

	cons := NewConsumer(opts)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = append(c.consumers, cons)
	if batch {
		bc := &BatchConsumer{Consumer: cons}
		if c.batch == nil {
			c.batch = make(map[*Consumer]*BatchConsumer)
		}
		c.batch[cons] = bc
		return bc, nil
	}
	return cons, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Consumers returns every consumer created so far.
func (c *Client) Consumers() []*Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Consumer(nil), c.consumers...)
}

// Consumer returns the i-th consumer, or nil.
func (c *Client) Consumer(i int) *Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.consumers) {
		return nil
	}
	return c.consumers[i]
}

// BatchConsumer returns the BatchAcker wrapper of the i-th consumer, or nil
// when BatchAck was off for it.
func (c *Client) BatchConsumer(i int) *BatchConsumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.consumers) {
		return nil
	}
	return c.batch[c.consumers[i]]
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
