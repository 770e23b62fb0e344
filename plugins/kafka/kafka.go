package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/miladsoleymani/listenmux/broker"
	"github.com/miladsoleymani/listenmux/core"
)

func init() {
	broker.Register("kafka", func(cfg broker.Config) (core.Client, error) {
		return New(cfg.Brokers, optsFromConfig(cfg)...)
	})
}

// Client implements core.Client for Apache Kafka using segmentio/kafka-go.
//
// Design decisions:
//   - One kafka.Writer shared by every producer (thread-safe by library).
//   - One kafka.Reader per consumer, joined to the consumer group named by
//     the subscription. Partitions are spread across a subscription's
//     consumers, so Exclusive, Failover and Key_Shared map onto the group;
//     Shared (per-message distribution) is not supported.
//   - Ack commits the message offset, which also covers earlier offsets of
//     the same partition. Nack writes a copy with an incremented
//     REDELIVERY_COUNT back to the topic and then commits the original.
//   - Topic patterns are resolved against cluster metadata at subscribe time.
type Client struct {
	brokers []string
	opts    options
	writer  writer
	matcher core.TopicMatcher

	// topics lists the cluster's topics; replaced in tests.
	topics func(ctx context.Context) ([]string, error)

	mu      sync.Mutex
	closed  bool
	readers map[*consumer]struct{}
}

var _ core.Client = (*Client)(nil)

// writer is the part of *kafka.Writer the client uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// reader is the part of *kafka.Reader a consumer uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// New creates a Kafka client. No connection is made until the first
// subscribe or send.
func New(brokers []string, fns ...Option) (*Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("listenmux/kafka: at least one broker address is required")
	}

	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     opts.balancer,
		BatchSize:    opts.batchSize,
		Async:        opts.async,
		RequiredAcks: kafka.RequireAll,
	}
	if opts.dialer != nil {
		w.Transport = &kafka.Transport{
			ClientID:    opts.dialer.ClientID,
			DialTimeout: opts.dialer.Timeout,
			TLS:         opts.dialer.TLS,
			SASL:        opts.dialer.SASLMechanism,
		}
	}

	c := &Client{
		brokers: brokers,
		opts:    opts,
		writer:  w,
		matcher: core.DefaultMatcher{},
		readers: make(map[*consumer]struct{}),
	}
	c.topics = c.listTopics
	return c, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// listTopics reads topic names from cluster metadata.
func (c *Client) listTopics(ctx context.Context) ([]string, error) {
	dialer := c.opts.dialer
	if dialer == nil {
		dialer = kafka.DefaultDialer
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.brokers[0])
	if err != nil {
		return nil, fmt.Errorf("listenmux/kafka: dial %q: %w", c.brokers[0], err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("listenmux/kafka: read metadata: %w", err)
	}
	seen := make(map[string]struct{})
	var topics []string
	for _, p := range partitions {
		if _, ok := seen[p.Topic]; !ok {
			seen[p.Topic] = struct{}{}
			topics = append(topics, p.Topic)
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// resolveTopics returns the explicit topics, or the existing topics matched
// by the pattern.
func (c *Client) resolveTopics(ctx context.Context, opts core.SubscribeOptions) ([]string, error) {
	if opts.TopicPattern == "" {
		if len(opts.Topics) == 0 {
			return nil, fmt.Errorf("listenmux/kafka: topics or topic pattern is required")
		}
		return opts.Topics, nil
	}
	all, err := c.topics(ctx)
	if err != nil {
		return nil, err
	}
	matched := core.FilterTopics(c.matcher, opts.TopicPattern, all)
	if len(matched) == 0 {
		return nil, fmt.Errorf("listenmux/kafka: no topic matches pattern %q", opts.TopicPattern)
	}
	return matched, nil
}

func (c *Client) readerConfig(opts core.SubscribeOptions, topics []string) kafka.ReaderConfig {
	start := kafka.LastOffset
	if opts.InitialPosition == core.Earliest {
		start = kafka.FirstOffset
	}
	cfg := kafka.ReaderConfig{
		Brokers:        c.brokers,
		GroupID:        opts.SubscriptionName,
		GroupTopics:    topics,
		MinBytes:       c.opts.minBytes,
		MaxBytes:       c.opts.maxBytes,
		MaxWait:        c.opts.maxWait,
		StartOffset:    start,
		SessionTimeout: c.opts.sessionTimeout,
	}
	if c.opts.dialer != nil {
		cfg.Dialer = c.opts.dialer
	}
	return cfg
}

// Subscribe joins the consumer group named by the subscription.
func (c *Client) Subscribe(ctx context.Context, opts core.SubscribeOptions) (core.Consumer, error) {
	if c.isClosed() {
		return nil, core.ErrClientClosed
	}
	if opts.SubscriptionType == core.Shared {
		return nil, fmt.Errorf("listenmux/kafka: %s: %w", opts.SubscriptionType, core.ErrUnsupportedSubscriptionType)
	}
	if opts.SubscriptionName == "" {
		return nil, fmt.Errorf("listenmux/kafka: subscription name is required")
	}
	topics, err := c.resolveTopics(ctx, opts)
	if err != nil {
		return nil, err
	}

	cons := &consumer{
		client: c,
		group:  opts.SubscriptionName,
		reader: kafka.NewReader(c.readerConfig(opts, topics)),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = cons.reader.Close()
		return nil, core.ErrClientClosed
	}
	c.readers[cons] = struct{}{}
	c.mu.Unlock()

	c.opts.logger.Info("consumer group joined", "group", opts.SubscriptionName, "topics", topics)
	return cons, nil
}

// Producer returns a producer for topic backed by the shared writer.
func (c *Client) Producer(_ context.Context, topic string, _ core.Schema) (core.Producer, error) {
	if c.isClosed() {
		return nil, core.ErrClientClosed
	}
	if topic == "" || core.IsPattern(topic) {
		return nil, fmt.Errorf("listenmux/kafka: invalid producer topic %q", topic)
	}
	return &producer{client: c, topic: topic}, nil
}

// Close flushes the writer and closes all readers.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	readers := make([]*consumer, 0, len(c.readers))
	for r := range c.readers {
		readers = append(readers, r)
	}
	c.mu.Unlock()

	var err error
	if werr := c.writer.Close(); werr != nil {
		err = multierr.Append(err, fmt.Errorf("listenmux/kafka: close writer: %w", werr))
	}
	for _, r := range readers {
		err = multierr.Append(err, r.Close(context.Background()))
	}
	return err
}

type producer struct {
	client *Client
	topic  string
}

func (p *producer) Topic() string { return p.topic }

// Send writes msg and returns a generated id that consumers see as the
// message id.
func (p *producer) Send(ctx context.Context, msg core.OutboundMessage) (core.MessageID, error) {
	id := uuid.NewString()
	headers := toHeaders(msg.Headers)
	headers = append(headers, kafka.Header{Key: HeaderMessageID, Value: []byte(id)})

	err := p.client.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return "", fmt.Errorf("listenmux/kafka: publish to %q: %w", p.topic, err)
	}
	return core.MessageID(id), nil
}

type consumer struct {
	client *Client
	group  string
	reader reader

	// held is a fetched message whose not-before time has not passed yet.
	// Receive is only called from one goroutine.
	held *message

	closeOnce sync.Once
	closeErr  error
}

var (
	_ core.Consumer   = (*consumer)(nil)
	_ core.BatchAcker = (*consumer)(nil)
)

// Receive fetches the next message. A copy written by a delayed Nack is held
// until its not-before time, which also holds up the messages behind it.
func (c *consumer) Receive(ctx context.Context) (core.Message, error) {
	if c.held == nil {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil, core.ErrConsumerClosed
			}
			return nil, fmt.Errorf("listenmux/kafka: fetch: %w", err)
		}
		c.held = newMessage(raw)
	}

	if wait := time.Until(c.held.notBefore); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	m := c.held
	c.held = nil
	return m, nil
}

func asMessage(msg core.Message) (*message, error) {
	m, ok := msg.(*message)
	if !ok {
		return nil, fmt.Errorf("listenmux/kafka: foreign message %T", msg)
	}
	return m, nil
}

func rawMessages(msgs []core.Message) ([]kafka.Message, error) {
	out := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		m, err := asMessage(msg)
		if err != nil {
			return nil, err
		}
		out[i] = m.raw
	}
	return out, nil
}

// Ack commits the offset of msg.
func (c *consumer) Ack(ctx context.Context, msg core.Message) error {
	return c.AckAll(ctx, []core.Message{msg})
}

// AckAll commits the offsets of msgs in one request.
func (c *consumer) AckAll(ctx context.Context, msgs []core.Message) error {
	raws, err := rawMessages(msgs)
	if err != nil {
		return err
	}
	if err := c.reader.CommitMessages(ctx, raws...); err != nil {
		return fmt.Errorf("listenmux/kafka: commit offset: %w", err)
	}
	return nil
}

// Nack writes a copy of msg back to its topic with REDELIVERY_COUNT
// incremented and then commits the original offset. Kafka has no
// per-message negative acknowledgment, and an uncommitted offset is passed
// over by the next commit on the partition. A positive delay is stamped on
// the copy as HeaderNotBefore. If the write fails nothing is committed.
func (c *consumer) Nack(ctx context.Context, msg core.Message, delay time.Duration) error {
	m, err := asMessage(msg)
	if err != nil {
		return err
	}
	var notBefore time.Time
	if delay > 0 {
		notBefore = time.Now().Add(delay)
	}
	if err := c.client.writer.WriteMessages(ctx, m.redelivery(notBefore)); err != nil {
		return fmt.Errorf("listenmux/kafka: redeliver to %q: %w", m.raw.Topic, err)
	}
	if err := c.reader.CommitMessages(ctx, m.raw); err != nil {
		return fmt.Errorf("listenmux/kafka: commit offset: %w", err)
	}
	c.client.opts.logger.Debug("message written back for redelivery",
		"group", c.group,
		"message_id", m.ID(),
		"redelivery_count", m.RedeliveryCount()+1,
		"delay", delay,
	)
	return nil
}

func (c *consumer) Close(context.Context) error {
	c.closeOnce.Do(func() {
		if err := c.reader.Close(); err != nil {
			c.closeErr = fmt.Errorf("listenmux/kafka: close reader: %w", err)
		}
		c.client.mu.Lock()
		delete(c.client.readers, c)
		c.client.mu.Unlock()
	})
	return c.closeErr
}

// optsFromConfig extracts options from broker.Config.
func optsFromConfig(cfg broker.Config) []Option {
	var opts []Option
	if cfg.ClientID != "" || cfg.DialTimeout > 0 {
		d := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
		if d.Timeout == 0 {
			d.Timeout = 10 * time.Second
		}
		opts = append(opts, WithDialer(d))
	}
	if v, ok := cfg.Extra["async"].(bool); ok && v {
		opts = append(opts, WithAsync(true))
	}
	if v, ok := cfg.Extra["batch_size"].(int); ok {
		opts = append(opts, WithBatchSize(v))
	}
	if v, ok := cfg.Extra["max_bytes"].(int); ok {
		opts = append(opts, WithMaxBytes(v))
	}
	return opts
}
