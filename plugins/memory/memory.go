// Package memory provides an in-process broker binding. It implements every
// subscription type, delayed negative acknowledgment, ack timeouts and
// redelivery counting, which makes it suitable for tests and single-process
// deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/miladsoleymani/listenmux/broker"
	"github.com/miladsoleymani/listenmux/core"
)

func init() {
	broker.Register("memory", func(cfg broker.Config) (core.Client, error) {
		var opts []Option
		if v, ok := cfg.Extra["retention"].(int); ok {
			opts = append(opts, WithRetention(v))
		}
		return New(opts...), nil
	})
}

// Client is an in-process broker. Publishing to a topic delivers a copy to
// every subscription bound to it; within a subscription the subscription
// type decides which consumer receives the message.
type Client struct {
	opts    options
	matcher core.TopicMatcher

	// mu orders publishes against subscription creation so that an
	// Earliest subscription replays each retained message exactly once.
	mu     sync.RWMutex
	subs   *xsync.Map[string, *subscription]
	logs   *xsync.Map[string, *topicLog]
	seq    atomic.Uint64
	closed atomic.Bool
}

var _ core.Client = (*Client)(nil)

// New creates an empty in-memory broker.
func New(fns ...Option) *Client {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Client{
		opts:    opts,
		matcher: core.DefaultMatcher{},
		subs:    xsync.NewMap[string, *subscription](),
		logs:    xsync.NewMap[string, *topicLog](),
	}
}

// Subscribe attaches a consumer to the named subscription, creating the
// subscription on first use. The context only bounds setup.
func (c *Client) Subscribe(_ context.Context, opts core.SubscribeOptions) (core.Consumer, error) {
	if c.closed.Load() {
		return nil, core.ErrClientClosed
	}
	if opts.SubscriptionName == "" {
		return nil, fmt.Errorf("listenmux/memory: subscription name is required")
	}
	if len(opts.Topics) == 0 && opts.TopicPattern == "" {
		return nil, fmt.Errorf("listenmux/memory: topics or topic pattern is required")
	}

	c.mu.Lock()
	sub, loaded := c.subs.Load(opts.SubscriptionName)
	if !loaded {
		sub = newSubscription(c, opts)
		if opts.InitialPosition == core.Earliest {
			c.replay(sub)
		}
		c.subs.Store(opts.SubscriptionName, sub)
		c.opts.logger.Debug("subscription created",
			"subscription", opts.SubscriptionName,
			"subscription_type", opts.SubscriptionType.String(),
		)
	}
	c.mu.Unlock()

	if sub.subType != opts.SubscriptionType {
		return nil, fmt.Errorf("listenmux/memory: subscription %q is %s, requested %s",
			opts.SubscriptionName, sub.subType, opts.SubscriptionType)
	}
	return sub.attach(opts)
}

// replay enqueues retained messages on a new subscription. Callers hold mu.
func (c *Client) replay(sub *subscription) {
	c.logs.Range(func(topic string, log *topicLog) bool {
		if sub.matches(topic) {
			for _, m := range log.snapshot() {
				sub.dispatch(m)
			}
		}
		return true
	})
}

// Producer returns a producer for topic. The schema is not used; payloads
// are carried as given.
func (c *Client) Producer(_ context.Context, topic string, _ core.Schema) (core.Producer, error) {
	if c.closed.Load() {
		return nil, core.ErrClientClosed
	}
	if topic == "" || core.IsPattern(topic) {
		return nil, fmt.Errorf("listenmux/memory: invalid producer topic %q", topic)
	}
	return &producer{client: c, topic: topic}, nil
}

// Publish delivers msg to every subscription bound to topic.
func (c *Client) Publish(_ context.Context, topic string, msg core.OutboundMessage) (core.MessageID, error) {
	if c.closed.Load() {
		return "", core.ErrClientClosed
	}
	m := &message{
		id:      core.MessageID(fmt.Sprintf("%s:%d", topic, c.seq.Add(1))),
		topic:   topic,
		key:     msg.Key,
		value:   msg.Value,
		headers: copyHeaders(msg.Headers),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.opts.retention > 0 {
		log, _ := c.logs.LoadOrCompute(topic, func() (*topicLog, bool) {
			return &topicLog{limit: c.opts.retention}, false
		})
		log.append(m)
	}
	c.subs.Range(func(_ string, sub *subscription) bool {
		if sub.matches(topic) {
			sub.dispatch(m)
		}
		return true
	})
	return m.id, nil
}

// Backlog returns the number of messages waiting in a subscription without
// an attached consumer that could take them.
func (c *Client) Backlog(subscription string) int {
	sub, ok := c.subs.Load(subscription)
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.backlog)
}

// Close closes every consumer. Later calls are no-ops.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.subs.Range(func(_ string, sub *subscription) bool {
		sub.closeAll()
		return true
	})
	return nil
}

type producer struct {
	client *Client
	topic  string
}

func (p *producer) Topic() string { return p.topic }

func (p *producer) Send(ctx context.Context, msg core.OutboundMessage) (core.MessageID, error) {
	return p.client.Publish(ctx, p.topic, msg)
}

// topicLog retains the most recent messages of one topic.
type topicLog struct {
	mu    sync.Mutex
	limit int
	msgs  []*message
}

func (l *topicLog) append(m *message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	if over := len(l.msgs) - l.limit; over > 0 {
		l.msgs = append(l.msgs[:0:0], l.msgs[over:]...)
	}
}

func (l *topicLog) snapshot() []*message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*message(nil), l.msgs...)
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
