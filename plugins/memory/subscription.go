package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/miladsoleymani/listenmux/core"
)

// subscription is a named cursor shared by its consumers. Messages that
// arrive while no consumer can take them wait in backlog.
type subscription struct {
	client  *Client
	name    string
	subType core.SubscriptionType
	topics  map[string]struct{}
	pattern string

	mu        sync.Mutex
	consumers []*consumer
	backlog   []*message
	next      int // round-robin cursor for Shared
}

func newSubscription(c *Client, opts core.SubscribeOptions) *subscription {
	s := &subscription{
		client:  c,
		name:    opts.SubscriptionName,
		subType: opts.SubscriptionType,
		pattern: opts.TopicPattern,
		topics:  make(map[string]struct{}, len(opts.Topics)),
	}
	for _, t := range opts.Topics {
		s.topics[t] = struct{}{}
	}
	return s
}

func (s *subscription) matches(topic string) bool {
	if s.pattern != "" {
		return s.client.matcher.Match(s.pattern, topic)
	}
	_, ok := s.topics[topic]
	return ok
}

func (s *subscription) attach(opts core.SubscribeOptions) (*consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subType == core.Exclusive && len(s.consumers) > 0 {
		return nil, fmt.Errorf("listenmux/memory: subscription %q: %w", s.name, core.ErrConsumerBusy)
	}
	c := &consumer{
		sub:        s,
		ackTimeout: opts.AckTimeout,
		notify:     make(chan struct{}, 1),
		inflight:   make(map[*message]*time.Timer),
	}
	s.consumers = append(s.consumers, c)

	pending := s.backlog
	s.backlog = nil
	for _, m := range pending {
		s.dispatchLocked(m)
	}
	return c, nil
}

func (s *subscription) dispatch(m *message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(m)
}

// dispatchLocked hands m to the consumer chosen by the subscription type.
// Callers hold mu.
func (s *subscription) dispatchLocked(m *message) {
	if len(s.consumers) == 0 {
		s.backlog = append(s.backlog, m)
		return
	}
	var target *consumer
	switch s.subType {
	case core.Shared:
		target = s.consumers[s.next%len(s.consumers)]
		s.next++
	case core.KeyShared:
		target = s.consumers[xxh3.Hash(m.key)%uint64(len(s.consumers))]
	default:
		// Exclusive has one consumer; Failover delivers to the oldest.
		target = s.consumers[0]
	}
	target.queue = append(target.queue, m)
	target.signal()
}

// detach removes c and hands its queued and unacknowledged messages to the
// remaining consumers. Unacknowledged messages count as redelivered.
func (s *subscription) detach(c *consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, other := range s.consumers {
		if other == c {
			s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
			break
		}
	}
	queued, inflight := c.queue, c.inflight
	c.queue, c.inflight = nil, nil
	for m, timer := range inflight {
		if timer != nil {
			timer.Stop()
		}
		s.dispatchLocked(m.redelivery())
	}
	for _, m := range queued {
		s.dispatchLocked(m)
	}
}

func (s *subscription) closeAll() {
	s.mu.Lock()
	consumers := append([]*consumer(nil), s.consumers...)
	s.mu.Unlock()
	for _, c := range consumers {
		_ = c.Close(context.Background())
	}
}

// consumer is one attachment to a subscription. Its state is guarded by the
// subscription mutex.
type consumer struct {
	sub        *subscription
	ackTimeout time.Duration
	notify     chan struct{}

	queue    []*message
	inflight map[*message]*time.Timer
	closed   bool
}

var (
	_ core.Consumer   = (*consumer)(nil)
	_ core.BatchAcker = (*consumer)(nil)
)

var errNotInFlight = errors.New("listenmux/memory: message is not in flight")

func (c *consumer) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *consumer) Receive(ctx context.Context) (core.Message, error) {
	for {
		s := c.sub
		s.mu.Lock()
		if c.closed {
			s.mu.Unlock()
			return nil, core.ErrConsumerClosed
		}
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			var timer *time.Timer
			if c.ackTimeout > 0 {
				timer = time.AfterFunc(c.ackTimeout, func() { c.expire(m) })
			}
			c.inflight[m] = timer
			s.mu.Unlock()
			return m, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.notify:
		}
	}
}

// expire redelivers m when it is still unacknowledged after the ack timeout.
func (c *consumer) expire(m *message) {
	s := c.sub
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := c.inflight[m]; !ok {
		return
	}
	delete(c.inflight, m)
	s.client.opts.logger.Debug("ack timeout, redelivering",
		"subscription", s.name, "message_id", m.id)
	s.dispatchLocked(m.redelivery())
}

// take removes msg from the in-flight set.
func (c *consumer) take(msg core.Message) (*message, error) {
	m, ok := msg.(*message)
	if !ok {
		return nil, fmt.Errorf("listenmux/memory: foreign message %T", msg)
	}
	if c.closed {
		return nil, core.ErrConsumerClosed
	}
	timer, ok := c.inflight[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNotInFlight, m.id)
	}
	if timer != nil {
		timer.Stop()
	}
	delete(c.inflight, m)
	return m, nil
}

func (c *consumer) Ack(_ context.Context, msg core.Message) error {
	c.sub.mu.Lock()
	defer c.sub.mu.Unlock()
	_, err := c.take(msg)
	return err
}

// AckAll acknowledges msgs in one step. It fails without acknowledging
// anything when one of them is not in flight.
func (c *consumer) AckAll(_ context.Context, msgs []core.Message) error {
	c.sub.mu.Lock()
	defer c.sub.mu.Unlock()
	for _, msg := range msgs {
		m, ok := msg.(*message)
		if !ok {
			return fmt.Errorf("listenmux/memory: foreign message %T", msg)
		}
		if _, ok := c.inflight[m]; !ok {
			return fmt.Errorf("%w: %s", errNotInFlight, m.id)
		}
	}
	for _, msg := range msgs {
		if _, err := c.take(msg); err != nil {
			return err
		}
	}
	return nil
}

// Nack schedules redelivery of msg after delay. The redelivered message has
// its redelivery count incremented.
func (c *consumer) Nack(_ context.Context, msg core.Message, delay time.Duration) error {
	s := c.sub
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := c.take(msg)
	if err != nil {
		return err
	}
	next := m.redelivery()
	if delay <= 0 {
		s.dispatchLocked(next)
		return nil
	}
	time.AfterFunc(delay, func() {
		if s.client.closed.Load() {
			return
		}
		s.dispatch(next)
	})
	return nil
}

// Close detaches the consumer. Its unacknowledged messages are redelivered
// to the remaining consumers of the subscription, or wait for the next one.
func (c *consumer) Close(context.Context) error {
	s := c.sub
	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		return nil
	}
	c.closed = true
	s.mu.Unlock()

	s.detach(c)
	c.signal()
	return nil
}
