package mock

import (
	"context"
	"sync"
	"time"

	"github.com/miladsoleymani/listenmux/core"
)

// Nacked records a negative acknowledgment.
type Nacked struct {
	ID    core.MessageID
	Delay time.Duration
}

// Consumer is a test double for core.Consumer. Messages pushed with Push are
// returned by Receive in order.
type Consumer struct {
	Options core.SubscribeOptions

	mu         sync.Mutex
	in         chan core.Message
	acked      []core.MessageID
	nacked     []Nacked
	ackCalls   int
	closed     bool
	closeCalls int

	AckErr     error
	NackErr    error
	ReceiveErr error
	CloseErr   error
}

// NewConsumer returns a Consumer with a buffered inbox.
func NewConsumer(opts core.SubscribeOptions) *Consumer {
	return &Consumer{Options: opts, in: make(chan core.Message, 1024)}
}

// Push queues msg for Receive.
func (c *Consumer) Push(msg core.Message) { c.in <- msg }

func (c *Consumer) Receive(ctx context.Context) (core.Message, error) {
	c.mu.Lock()
	err := c.ReceiveErr
	c.mu.Unlock()
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, err
		}
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.in:
		return msg, nil
	}
}

// SetReceiveErr makes Receive fail with err until cleared with nil.
func (c *Consumer) SetReceiveErr(err error) {
	c.mu.Lock()
	c.ReceiveErr = err
	c.mu.Unlock()
}

func (c *Consumer) Ack(_ context.Context, msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackCalls++
	if c.AckErr != nil {
		return c.AckErr
	}
	c.acked = append(c.acked, msg.ID())
	return nil
}

func (c *Consumer) Nack(_ context.Context, msg core.Message, delay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NackErr != nil {
		return c.NackErr
	}
	c.nacked = append(c.nacked, Nacked{ID: msg.ID(), Delay: delay})
	return nil
}

func (c *Consumer) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCalls++
	return c.CloseErr
}

// Acked returns the ids acknowledged so far.
func (c *Consumer) Acked() []core.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.MessageID(nil), c.acked...)
}

// AckCalls returns how many times Ack was called, including failed calls.
func (c *Consumer) AckCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackCalls
}

// Nacked returns the negative acknowledgments so far.
func (c *Consumer) Nacked() []Nacked {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Nacked(nil), c.nacked...)
}

// IsClosed reports whether Close was called.
func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCalls returns how many times Close was called.
func (c *Consumer) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// BatchConsumer adds core.BatchAcker to Consumer and records batch sizes.
type BatchConsumer struct {
	*Consumer

	mu      sync.Mutex
	batches [][]core.MessageID
}

func (c *BatchConsumer) AckAll(ctx context.Context, msgs []core.Message) error {
	ids := make([]core.MessageID, 0, len(msgs))
	for _, m := range msgs {
		if err := c.Consumer.Ack(ctx, m); err != nil {
			return err
		}
		ids = append(ids, m.ID())
	}
	c.mu.Lock()
	c.batches = append(c.batches, ids)
	c.mu.Unlock()
	return nil
}

// Batches returns the ids of every AckAll call.
func (c *BatchConsumer) Batches() [][]core.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]core.MessageID(nil), c.batches...)
}
