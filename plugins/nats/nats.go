package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/multierr"

	"github.com/miladsoleymani/listenmux/broker"
	"github.com/miladsoleymani/listenmux/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Client, error) {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("listenmux/nats: at least one broker URL is required")
		}
		return New(strings.Join(cfg.Brokers, ","), optsFromConfig(cfg)...)
	})
}

// Client implements core.Client for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Client instance.
//   - All topics live in one stream whose subject list grows as
//     subscriptions and producers need it.
//   - A subscription is a durable pull consumer filtered to its subjects.
//     Shared consumers attached to it compete for messages. The client
//     allows one Exclusive consumer per subscription and keeps extra
//     Failover consumers on standby until the active one closes. Both
//     guards are per Client; another process attaching to the same durable
//     is not seen.
//   - Key_Shared is not supported.
//   - Negative acknowledgment uses NakWithDelay; the redelivery count is
//     derived from the server's delivery counter.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
	opts options

	// streamMu serializes stream subject updates.
	streamMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	consumers map[*consumer]struct{}
	attached  map[string]*attachments
}

var _ core.Client = (*Client)(nil)

// attachments are the consumers of one durable on this client.
type attachments struct {
	subType core.SubscriptionType
	active  []*consumer
	standby []*consumer
}

// New connects to url and returns a JetStream client. url is a standard NATS
// URL (nats://host:port) or a comma-separated list of them.
func New(url string, fns ...Option) (*Client, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	connOpts := append([]nats.Option{nats.Timeout(opts.dialTimeout)}, opts.connOpts...)
	if opts.name != "" {
		connOpts = append(connOpts, nats.Name(opts.name))
	}
	nc, err := nats.Connect(url, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("listenmux/nats: connect to %q: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("listenmux/nats: init jetstream: %w", err)
	}

	return &Client{
		conn:      nc,
		js:        js,
		opts:      opts,
		consumers: make(map[*consumer]struct{}),
		attached:  make(map[string]*attachments),
	}, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ensureSubjects makes the stream capture subjects, creating the stream or
// extending its subject list as needed.
func (c *Client) ensureSubjects(ctx context.Context, subjects []string) (jetstream.Stream, error) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	stream, err := c.js.Stream(ctx, c.opts.stream)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err = c.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      c.opts.stream,
			Subjects:  mergeSubjects(nil, subjects),
			MaxMsgs:   c.opts.maxMsgs,
			MaxBytes:  c.opts.maxBytes,
			MaxAge:    c.opts.maxAge,
			Replicas:  c.opts.replicas,
			Retention: c.opts.retention,
			Storage:   c.opts.storage,
		})
		if err != nil {
			return nil, fmt.Errorf("listenmux/nats: create stream %q: %w", c.opts.stream, err)
		}
		return stream, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listenmux/nats: lookup stream %q: %w", c.opts.stream, err)
	}

	cfg := stream.CachedInfo().Config
	merged := mergeSubjects(cfg.Subjects, subjects)
	if equalSubjects(merged, cfg.Subjects) {
		return stream, nil
	}
	cfg.Subjects = merged
	stream, err = c.js.UpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("listenmux/nats: update stream %q subjects: %w", c.opts.stream, err)
	}
	c.opts.logger.Debug("stream subjects updated", "stream", c.opts.stream, "subjects", merged)
	return stream, nil
}

// Subscribe creates or updates a durable pull consumer named after the
// subscription and starts pulling. The context bounds setup only.
func (c *Client) Subscribe(ctx context.Context, opts core.SubscribeOptions) (core.Consumer, error) {
	if c.isClosed() {
		return nil, core.ErrClientClosed
	}
	if opts.SubscriptionType == core.KeyShared {
		return nil, fmt.Errorf("listenmux/nats: %s: %w", opts.SubscriptionType, core.ErrUnsupportedSubscriptionType)
	}

	subjects, err := filterSubjects(opts)
	if err != nil {
		return nil, err
	}
	stream, err := c.ensureSubjects(ctx, subjects)
	if err != nil {
		return nil, err
	}

	ackWait := c.opts.ackWait
	if opts.AckTimeout > 0 {
		ackWait = opts.AckTimeout
	}
	deliver := jetstream.DeliverNewPolicy
	if opts.InitialPosition == core.Earliest {
		deliver = jetstream.DeliverAllPolicy
	}

	durable := durableName(opts.SubscriptionName)
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        durable,
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        ackWait,
		DeliverPolicy:  deliver,
		MaxDeliver:     c.opts.maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("listenmux/nats: create consumer %q: %w", durable, err)
	}

	out := &consumer{
		client:  c,
		name:    durable,
		subType: opts.SubscriptionType,
		js:      cons,
		msgs:    make(chan *message),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrClientClosed
	}
	active, err := c.attachLocked(out)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.consumers[out] = struct{}{}
	c.mu.Unlock()

	if active {
		if err := out.start(); err != nil {
			_ = out.Close(ctx)
			return nil, err
		}
	}

	c.opts.logger.Info("consumer subscribed",
		"consumer", durable,
		"subjects", subjects,
		"subscription_type", opts.SubscriptionType.String(),
		"standby", !active,
	)
	return out, nil
}

// attachLocked records cons on its durable and reports whether it should
// start consuming now. c.mu must be held.
func (c *Client) attachLocked(cons *consumer) (bool, error) {
	a := c.attached[cons.name]
	if a == nil {
		c.attached[cons.name] = &attachments{subType: cons.subType, active: []*consumer{cons}}
		return true, nil
	}
	switch {
	case a.subType != cons.subType:
		return false, fmt.Errorf("listenmux/nats: subscription %q attached as %s: %w", cons.name, a.subType, core.ErrConsumerBusy)
	case a.subType == core.Exclusive:
		return false, fmt.Errorf("listenmux/nats: subscription %q: %w", cons.name, core.ErrConsumerBusy)
	case a.subType == core.Failover && len(a.active) > 0:
		a.standby = append(a.standby, cons)
		return false, nil
	}
	a.active = append(a.active, cons)
	return true, nil
}

// detach removes cons from its durable and returns the standby consumer to
// promote, if any.
func (c *Client) detach(cons *consumer) *consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumers, cons)

	a := c.attached[cons.name]
	if a == nil {
		return nil
	}
	a.active = without(a.active, cons)
	a.standby = without(a.standby, cons)

	var next *consumer
	if len(a.active) == 0 && len(a.standby) > 0 && !c.closed {
		next, a.standby = a.standby[0], a.standby[1:]
		a.active = append(a.active, next)
	}
	if len(a.active) == 0 && len(a.standby) == 0 {
		delete(c.attached, cons.name)
	}
	return next
}

func without(list []*consumer, cons *consumer) []*consumer {
	for i, v := range list {
		if v == cons {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Producer returns a producer for topic, extending the stream to capture it.
func (c *Client) Producer(ctx context.Context, topic string, _ core.Schema) (core.Producer, error) {
	if c.isClosed() {
		return nil, core.ErrClientClosed
	}
	if topic == "" || core.IsPattern(topic) {
		return nil, fmt.Errorf("listenmux/nats: invalid producer topic %q", topic)
	}
	if _, err := c.ensureSubjects(ctx, []string{topic}); err != nil {
		return nil, err
	}
	return &producer{client: c, topic: topic}, nil
}

// Close stops all consumers and closes the NATS connection. Durable
// consumers stay on the server.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	consumers := make([]*consumer, 0, len(c.consumers))
	for cons := range c.consumers {
		consumers = append(consumers, cons)
	}
	c.mu.Unlock()

	var err error
	for _, cons := range consumers {
		err = multierr.Append(err, cons.Close(context.Background()))
	}
	c.conn.Close()
	return err
}

type producer struct {
	client *Client
	topic  string
}

func (p *producer) Topic() string { return p.topic }

func (p *producer) Send(ctx context.Context, msg core.OutboundMessage) (core.MessageID, error) {
	ack, err := p.client.js.PublishMsg(ctx, &nats.Msg{
		Subject: p.topic,
		Data:    msg.Value,
		Header:  toHeader(msg),
	})
	if err != nil {
		return "", fmt.Errorf("listenmux/nats: publish to %q: %w", p.topic, err)
	}
	return core.MessageID(fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)), nil
}

// consumer hands messages from the pull subscription to Receive one at a
// time. A standby consumer has no pull subscription until it is promoted.
type consumer struct {
	client  *Client
	name    string
	subType core.SubscriptionType
	js      jetstream.Consumer

	mu     sync.Mutex
	cc     jetstream.ConsumeContext
	closed bool

	msgs      chan *message
	done      chan struct{}
	closeOnce sync.Once
}

var _ core.Consumer = (*consumer)(nil)

// handle runs on the subscription goroutine and blocks until Receive takes
// the message. Messages that arrive after Close are returned to the server.
func (c *consumer) handle(m jetstream.Msg) {
	select {
	case c.msgs <- newMessage(m):
	case <-c.done:
		_ = m.Nak()
	}
}

// start begins pulling from the durable. It does nothing once the consumer
// is closed.
func (c *consumer) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cc != nil {
		return nil
	}
	logger := c.client.opts.logger
	cc, err := c.js.Consume(c.handle,
		jetstream.PullMaxMessages(c.client.opts.prefetch),
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			logger.Warn("consume error", "consumer", c.name, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("listenmux/nats: start consume on %q: %w", c.name, err)
	}
	c.cc = cc
	return nil
}

func (c *consumer) Receive(ctx context.Context) (core.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, core.ErrConsumerClosed
	case m := <-c.msgs:
		return m, nil
	}
}

func jsMsg(msg core.Message) (jetstream.Msg, error) {
	m, ok := msg.(*message)
	if !ok {
		return nil, fmt.Errorf("listenmux/nats: foreign message %T", msg)
	}
	return m.msg, nil
}

func (c *consumer) Ack(_ context.Context, msg core.Message) error {
	m, err := jsMsg(msg)
	if err != nil {
		return err
	}
	if err := m.Ack(); err != nil {
		return fmt.Errorf("listenmux/nats: ack: %w", err)
	}
	return nil
}

// Nack asks the server to redeliver msg after delay, or immediately when
// delay is zero.
func (c *consumer) Nack(_ context.Context, msg core.Message, delay time.Duration) error {
	m, err := jsMsg(msg)
	if err != nil {
		return err
	}
	if delay > 0 {
		err = m.NakWithDelay(delay)
	} else {
		err = m.Nak()
	}
	if err != nil {
		return fmt.Errorf("listenmux/nats: nack: %w", err)
	}
	return nil
}

// Close stops pulling. When c was the active Failover consumer the next
// standby one takes over.
func (c *consumer) Close(context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		cc := c.cc
		c.mu.Unlock()
		if cc != nil {
			cc.Stop()
		}

		if next := c.client.detach(c); next != nil {
			if err := next.start(); err != nil {
				c.client.opts.logger.Warn("standby consumer failed to take over",
					"consumer", c.name, "error", err)
				return
			}
			c.client.opts.logger.Info("standby consumer took over", "consumer", c.name)
		}
	})
	return nil
}

// filterSubjects translates the subscription's topics or pattern into
// JetStream filter subjects. "#" becomes ">"; because ">" needs at least one
// token, "a.#" also adds "a" itself.
func filterSubjects(opts core.SubscribeOptions) ([]string, error) {
	if opts.TopicPattern == "" {
		if len(opts.Topics) == 0 {
			return nil, fmt.Errorf("listenmux/nats: topics or topic pattern is required")
		}
		return mergeSubjects(nil, opts.Topics), nil
	}

	levels := strings.Split(opts.TopicPattern, ".")
	for i, l := range levels {
		if l == "#" && i != len(levels)-1 {
			return nil, fmt.Errorf("listenmux/nats: pattern %q: # is only supported as the last level", opts.TopicPattern)
		}
	}
	if levels[len(levels)-1] != "#" {
		return []string{opts.TopicPattern}, nil
	}
	if len(levels) == 1 {
		// a stream capturing ">" would overlap the JetStream API subjects
		return nil, fmt.Errorf("listenmux/nats: pattern %q needs at least one literal level", opts.TopicPattern)
	}
	prefix := strings.Join(levels[:len(levels)-1], ".")
	return []string{prefix, prefix + ".>"}, nil
}

// subjectCovers reports whether every subject matched by b is matched by a.
func subjectCovers(a, b string) bool {
	at, bt := strings.Split(a, "."), strings.Split(b, ".")
	for i, tok := range at {
		if tok == ">" {
			return len(bt) > i
		}
		if i >= len(bt) {
			return false
		}
		switch {
		case tok == "*":
			if bt[i] == ">" {
				return false
			}
		case tok != bt[i]:
			return false
		}
	}
	return len(at) == len(bt)
}

// mergeSubjects adds subjects to existing, skipping those already covered
// and dropping existing ones the new subjects cover.
func mergeSubjects(existing, subjects []string) []string {
	out := append([]string(nil), existing...)
	for _, s := range subjects {
		covered := false
		for _, e := range out {
			if subjectCovers(e, s) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		kept := out[:0]
		for _, e := range out {
			if !subjectCovers(s, e) {
				kept = append(kept, e)
			}
		}
		out = append(kept, s)
	}
	return out
}

func equalSubjects(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// durableName converts a subscription name into a valid durable consumer
// name by replacing characters the server rejects.
func durableName(subscription string) string {
	buf := make([]byte, len(subscription))
	for i := range len(subscription) {
		ch := subscription[i]
		if ch == '.' || ch == '*' || ch == '>' || ch == ' ' {
			buf[i] = '-'
		} else {
			buf[i] = ch
		}
	}
	return string(buf)
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.ClientID != "" {
		opts = append(opts, WithName(cfg.ClientID))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, WithDialTimeout(cfg.DialTimeout))
	}
	if v := cfg.String("stream", ""); v != "" {
		opts = append(opts, WithStream(v))
	}
	if v, ok := cfg.Extra["max_deliver"].(int); ok {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v, ok := cfg.Extra["replicas"].(int); ok {
		opts = append(opts, WithReplicas(v))
	}
	if v, ok := cfg.Extra["prefetch"].(int); ok {
		opts = append(opts, WithPrefetch(v))
	}
	return opts
}
