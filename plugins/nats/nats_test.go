package nats_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
	natsbinding "github.com/miladsoleymani/listenmux/plugins/nats"
	"github.com/miladsoleymani/listenmux/redelivery"
)

// startEmbeddedNATS runs a JetStream-enabled server on a random port.
func startEmbeddedNATS(t *testing.T) string {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready within timeout")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func newClient(t *testing.T) *natsbinding.Client {
	t.Helper()
	c, err := natsbinding.New(startEmbeddedNATS(t),
		natsbinding.WithStorage(jetstream.MemoryStorage),
		natsbinding.WithAckWait(5*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func receive(t *testing.T, cons core.Consumer) core.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := cons.Receive(ctx)
	require.NoError(t, err)
	return m
}

func TestSubscribePublishAck(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	cons, err := c.Subscribe(ctx, core.SubscribeOptions{
		Topics:           []string{"orders.created"},
		SubscriptionName: "billing",
		SubscriptionType: core.Shared,
	})
	require.NoError(t, err)

	p, err := c.Producer(ctx, "orders.created", nil)
	require.NoError(t, err)
	id, err := p.Send(ctx, core.OutboundMessage{
		Key:     []byte("order-7"),
		Value:   []byte(`{"id":7}`),
		Headers: map[string]string{"trace": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.MessageID("LISTENMUX:1"), id)

	m := receive(t, cons)
	assert.Equal(t, id, m.ID())
	assert.Equal(t, "orders.created", m.Topic())
	assert.Equal(t, []byte("order-7"), m.Key())
	assert.Equal(t, []byte(`{"id":7}`), m.Value())
	assert.Equal(t, "abc", m.Headers()["trace"])
	assert.Equal(t, 0, m.RedeliveryCount())
	require.NoError(t, cons.Ack(ctx, m))
}

func TestNackRedelivers(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	cons, err := c.Subscribe(ctx, core.SubscribeOptions{Topics: []string{"jobs"}, SubscriptionName: "workers"})
	require.NoError(t, err)
	p, err := c.Producer(ctx, "jobs", nil)
	require.NoError(t, err)
	_, err = p.Send(ctx, core.OutboundMessage{Value: []byte("job")})
	require.NoError(t, err)

	first := receive(t, cons)
	require.NoError(t, cons.Nack(ctx, first, 0))

	second := receive(t, cons)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, second.RedeliveryCount())
	require.NoError(t, cons.Ack(ctx, second))
}

func TestPatternSubscription(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	cons, err := c.Subscribe(ctx, core.SubscribeOptions{TopicPattern: "orders.#", SubscriptionName: "audit"})
	require.NoError(t, err)

	for _, topic := range []string{"payments.created", "orders", "orders.eu.created"} {
		p, err := c.Producer(ctx, topic, nil)
		require.NoError(t, err)
		_, err = p.Send(ctx, core.OutboundMessage{Value: []byte(topic)})
		require.NoError(t, err)
	}

	assert.Equal(t, "orders", receive(t, cons).Topic())
	assert.Equal(t, "orders.eu.created", receive(t, cons).Topic())
}

func TestKeySharedUnsupported(t *testing.T) {
	c := newClient(t)
	_, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		Topics: []string{"orders"}, SubscriptionName: "s", SubscriptionType: core.KeyShared,
	})
	assert.ErrorIs(t, err, core.ErrUnsupportedSubscriptionType)
}

func TestExclusiveAllowsOneConsumer(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	opts := core.SubscribeOptions{
		Topics:           []string{"ledger"},
		SubscriptionName: "ledger-writer",
		SubscriptionType: core.Exclusive,
	}

	first, err := c.Subscribe(ctx, opts)
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, opts)
	assert.ErrorIs(t, err, core.ErrConsumerBusy)

	shared := opts
	shared.SubscriptionType = core.Shared
	_, err = c.Subscribe(ctx, shared)
	assert.ErrorIs(t, err, core.ErrConsumerBusy)

	require.NoError(t, first.Close(ctx))
	again, err := c.Subscribe(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestFailoverStandbyTakesOver(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	opts := core.SubscribeOptions{
		Topics:           []string{"ledger"},
		SubscriptionName: "ledger-writer",
		SubscriptionType: core.Failover,
	}

	active, err := c.Subscribe(ctx, opts)
	require.NoError(t, err)
	standby, err := c.Subscribe(ctx, opts)
	require.NoError(t, err)

	p, err := c.Producer(ctx, "ledger", nil)
	require.NoError(t, err)
	_, err = p.Send(ctx, core.OutboundMessage{Value: []byte("a")})
	require.NoError(t, err)

	m := receive(t, active)
	assert.Equal(t, []byte("a"), m.Value())
	require.NoError(t, active.Ack(ctx, m))

	idle, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = standby.Receive(idle)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, active.Close(ctx))
	_, err = p.Send(ctx, core.OutboundMessage{Value: []byte("b")})
	require.NoError(t, err)

	m = receive(t, standby)
	assert.Equal(t, []byte("b"), m.Value())
	require.NoError(t, standby.Ack(ctx, m))
}

func TestCloseEndsReceive(t *testing.T) {
	c := newClient(t)
	cons, err := c.Subscribe(context.Background(), core.SubscribeOptions{Topics: []string{"orders"}, SubscriptionName: "s"})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = cons.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrConsumerClosed)

	_, err = c.Subscribe(context.Background(), core.SubscribeOptions{Topics: []string{"orders"}, SubscriptionName: "s"})
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestContainerDeadLetters(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	dlq, err := c.Subscribe(ctx, core.SubscribeOptions{Topics: []string{"orders-sub-DLQ"}, SubscriptionName: "dlq"})
	require.NoError(t, err)

	p := container.NewProperties("orders")
	p.SubscriptionName = "sub"
	p.AckMode = container.AckModeRecord
	p.SetListener(container.RecordListener(func(context.Context, core.Message) error {
		return errors.New("cannot process")
	}))
	cont, err := container.NewSingleContainer(c, p,
		container.WithDeadLetterPolicy(redelivery.Policy{MaxRedeliverCount: 1}),
	)
	require.NoError(t, err)
	require.NoError(t, cont.Start(ctx))
	defer cont.Stop(ctx)

	tmpl := core.NewTemplate(c, nil, "orders")
	id, err := tmpl.Send(ctx, "payload")
	require.NoError(t, err)

	dead := receive(t, dlq)
	assert.Equal(t, []byte("payload"), dead.Value())
	assert.Equal(t, string(id), dead.Headers()[redelivery.HeaderOriginMessageID])
	assert.Equal(t, "1", dead.Headers()[redelivery.HeaderRedeliveryCount])
}
