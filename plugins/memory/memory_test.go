package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/listenmux/broker"
	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/plugins/memory"
	"github.com/miladsoleymani/listenmux/redelivery"
)

func subscribe(t *testing.T, c *memory.Client, name string, typ core.SubscriptionType, topics ...string) core.Consumer {
	t.Helper()
	cons, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		Topics:           topics,
		SubscriptionName: name,
		SubscriptionType: typ,
	})
	require.NoError(t, err)
	return cons
}

func publish(t *testing.T, c *memory.Client, topic, key, value string) core.MessageID {
	t.Helper()
	id, err := c.Publish(context.Background(), topic, core.OutboundMessage{Key: []byte(key), Value: []byte(value)})
	require.NoError(t, err)
	return id
}

func receive(t *testing.T, cons core.Consumer) core.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, err := cons.Receive(ctx)
	require.NoError(t, err)
	return m
}

func receiveNone(t *testing.T, cons core.Consumer, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	m, err := cons.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected message %v", m)
}

func TestRegistered(t *testing.T) {
	client, err := broker.Create("memory", broker.Config{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Client{}, client)
}

func TestPublishFansOutToSubscriptions(t *testing.T) {
	c := memory.New()
	a := subscribe(t, c, "billing", core.Exclusive, "orders")
	b := subscribe(t, c, "shipping", core.Exclusive, "orders")

	id := publish(t, c, "orders", "k", "v1")

	ma, mb := receive(t, a), receive(t, b)
	assert.Equal(t, id, ma.ID())
	assert.Equal(t, id, mb.ID())
	assert.Equal(t, "orders", ma.Topic())
	assert.Equal(t, []byte("v1"), ma.Value())
	assert.Equal(t, 0, ma.RedeliveryCount())
}

func TestExclusiveRejectsSecondConsumer(t *testing.T) {
	c := memory.New()
	first := subscribe(t, c, "sub", core.Exclusive, "orders")

	_, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		Topics: []string{"orders"}, SubscriptionName: "sub", SubscriptionType: core.Exclusive,
	})
	assert.ErrorIs(t, err, core.ErrConsumerBusy)

	require.NoError(t, first.Close(context.Background()))
	subscribe(t, c, "sub", core.Exclusive, "orders")
}

func TestSubscriptionTypeMismatch(t *testing.T) {
	c := memory.New()
	subscribe(t, c, "sub", core.Shared, "orders")

	_, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		Topics: []string{"orders"}, SubscriptionName: "sub", SubscriptionType: core.Failover,
	})
	assert.Error(t, err)
}

func TestSharedRoundRobin(t *testing.T) {
	c := memory.New()
	a := subscribe(t, c, "sub", core.Shared, "orders")
	b := subscribe(t, c, "sub", core.Shared, "orders")

	for i := 0; i < 4; i++ {
		publish(t, c, "orders", "", fmt.Sprint(i))
	}

	assert.Equal(t, []byte("0"), receive(t, a).Value())
	assert.Equal(t, []byte("2"), receive(t, a).Value())
	assert.Equal(t, []byte("1"), receive(t, b).Value())
	assert.Equal(t, []byte("3"), receive(t, b).Value())
}

func TestKeySharedKeepsKeysTogether(t *testing.T) {
	c := memory.New()
	consumers := []core.Consumer{
		subscribe(t, c, "sub", core.KeyShared, "orders"),
		subscribe(t, c, "sub", core.KeyShared, "orders"),
		subscribe(t, c, "sub", core.KeyShared, "orders"),
	}

	keys := []string{"alpha", "beta", "gamma", "delta"}
	for round := 0; round < 3; round++ {
		for _, k := range keys {
			publish(t, c, "orders", k, k)
		}
	}

	owner := map[string]int{}
	total := 0
	for i, cons := range consumers {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			m, err := cons.Receive(ctx)
			cancel()
			if err != nil {
				break
			}
			total++
			k := string(m.Key())
			if prev, ok := owner[k]; ok {
				assert.Equal(t, prev, i, "key %s moved between consumers", k)
			}
			owner[k] = i
		}
	}
	assert.Equal(t, 12, total)
	assert.Len(t, owner, len(keys))
}

func TestFailoverStandby(t *testing.T) {
	c := memory.New()
	active := subscribe(t, c, "sub", core.Failover, "orders")
	standby := subscribe(t, c, "sub", core.Failover, "orders")

	publish(t, c, "orders", "", "m1")
	publish(t, c, "orders", "", "m2")
	m1 := receive(t, active)
	assert.Equal(t, []byte("m1"), m1.Value())
	receiveNone(t, standby, 20*time.Millisecond)

	// m1 is in flight and m2 queued; both move to the standby
	require.NoError(t, active.Close(context.Background()))
	got := map[string]int{}
	for i := 0; i < 2; i++ {
		m := receive(t, standby)
		got[string(m.Value())] = m.RedeliveryCount()
	}
	assert.Equal(t, map[string]int{"m1": 1, "m2": 0}, got)
}

func TestNackRedeliversAfterDelay(t *testing.T) {
	c := memory.New()
	cons := subscribe(t, c, "sub", core.Exclusive, "orders")
	publish(t, c, "orders", "", "v")
	ctx := context.Background()

	m := receive(t, cons)
	start := time.Now()
	require.NoError(t, cons.Nack(ctx, m, 50*time.Millisecond))

	again := receive(t, cons)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, m.ID(), again.ID())
	assert.Equal(t, 1, again.RedeliveryCount())

	require.NoError(t, cons.Nack(ctx, again, 0))
	third := receive(t, cons)
	assert.Equal(t, 2, third.RedeliveryCount())
	require.NoError(t, cons.Ack(ctx, third))
	receiveNone(t, cons, 20*time.Millisecond)
}

func TestAckIsOncePerDelivery(t *testing.T) {
	c := memory.New()
	cons := subscribe(t, c, "sub", core.Exclusive, "orders")
	publish(t, c, "orders", "", "v")
	ctx := context.Background()

	m := receive(t, cons)
	require.NoError(t, cons.Ack(ctx, m))
	assert.Error(t, cons.Ack(ctx, m))
	assert.Error(t, cons.Nack(ctx, m, 0))
}

func TestAckAll(t *testing.T) {
	c := memory.New()
	cons := subscribe(t, c, "sub", core.Exclusive, "orders")
	publish(t, c, "orders", "", "a")
	publish(t, c, "orders", "", "b")
	ctx := context.Background()

	a, b := receive(t, cons), receive(t, cons)
	ba, ok := cons.(core.BatchAcker)
	require.True(t, ok)
	require.NoError(t, ba.AckAll(ctx, []core.Message{a, b}))
	assert.Error(t, ba.AckAll(ctx, []core.Message{a}))
}

func TestAckTimeoutRedelivers(t *testing.T) {
	c := memory.New()
	cons, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		Topics:           []string{"orders"},
		SubscriptionName: "sub",
		AckTimeout:       30 * time.Millisecond,
	})
	require.NoError(t, err)
	publish(t, c, "orders", "", "v")

	first := receive(t, cons)
	second := receive(t, cons)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, second.RedeliveryCount())
	assert.Error(t, cons.Ack(context.Background(), first), "expired delivery")
}

func TestPatternSubscription(t *testing.T) {
	c := memory.New()
	cons, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		TopicPattern:     "orders.#",
		SubscriptionName: "sub",
	})
	require.NoError(t, err)

	publish(t, c, "payments.created", "", "no")
	publish(t, c, "orders.eu.created", "", "yes")

	assert.Equal(t, "orders.eu.created", receive(t, cons).Topic())
	receiveNone(t, cons, 20*time.Millisecond)
}

func TestEarliestReplaysRetained(t *testing.T) {
	c := memory.New(memory.WithRetention(2))
	publish(t, c, "orders", "", "1")
	publish(t, c, "orders", "", "2")
	publish(t, c, "orders", "", "3")

	latest := subscribe(t, c, "latest", core.Exclusive, "orders")
	earliest, err := c.Subscribe(context.Background(), core.SubscribeOptions{
		Topics:           []string{"orders"},
		SubscriptionName: "earliest",
		InitialPosition:  core.Earliest,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("2"), receive(t, earliest).Value())
	assert.Equal(t, []byte("3"), receive(t, earliest).Value())
	receiveNone(t, latest, 20*time.Millisecond)
}

func TestBacklogWaitsForConsumer(t *testing.T) {
	c := memory.New()
	cons := subscribe(t, c, "sub", core.Exclusive, "orders")
	require.NoError(t, cons.Close(context.Background()))

	publish(t, c, "orders", "", "kept")
	assert.Equal(t, 1, c.Backlog("sub"))

	next := subscribe(t, c, "sub", core.Exclusive, "orders")
	assert.Equal(t, []byte("kept"), receive(t, next).Value())
	assert.Zero(t, c.Backlog("sub"))
}

func TestCloseEndsReceive(t *testing.T) {
	c := memory.New()
	cons := subscribe(t, c, "sub", core.Exclusive, "orders")

	errc := make(chan error, 1)
	go func() {
		_, err := cons.Receive(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, core.ErrConsumerClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
	_, err := c.Subscribe(context.Background(), core.SubscribeOptions{Topics: []string{"orders"}, SubscriptionName: "x"})
	assert.ErrorIs(t, err, core.ErrClientClosed)
	_, err = c.Producer(context.Background(), "orders", nil)
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

// The tests below run containers against the in-memory broker end to end.

type batchCollector struct {
	mu      sync.Mutex
	batches [][]string
	done    chan struct{}
	want    int
}

func newBatchCollector(want int) *batchCollector {
	return &batchCollector{done: make(chan struct{}), want: want}
}

func (b *batchCollector) listen(_ context.Context, msgs []core.Message) error {
	vals := make([]string, len(msgs))
	for i, m := range msgs {
		vals[i] = string(m.Value())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, vals)
	if len(b.batches) == b.want {
		close(b.done)
	}
	return nil
}

func TestContainer_BatchSealing(t *testing.T) {
	c := memory.New()
	collector := newBatchCollector(2)

	p := container.NewProperties("orders")
	p.SubscriptionName = "sub"
	p.MaxNumMessages = 3
	p.BatchTimeout = 100 * time.Millisecond
	p.SetListener(container.BatchListener(collector.listen))

	cont, err := container.NewSingleContainer(c, p)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cont.Start(ctx))
	defer cont.Stop(ctx)

	tmpl := core.NewTemplate(c, nil, "orders")
	for _, v := range []string{"a", "b", "c"} {
		_, err := tmpl.Send(ctx, v)
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)
	for _, v := range []string{"d", "e"} {
		_, err := tmpl.Send(ctx, v)
		require.NoError(t, err)
	}

	select {
	case <-collector.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batches not delivered")
	}
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e"}}, collector.batches)
}

func TestContainer_DeadLetterAfterRedeliveries(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	dlq := subscribe(t, c, "dlq-reader", core.Exclusive, "orders-sub-DLQ")

	var mu sync.Mutex
	var attempts []int
	p := container.NewProperties("orders")
	p.SubscriptionName = "sub"
	p.SubscriptionType = core.Shared
	p.AckMode = container.AckModeRecord
	p.SetListener(container.RecordListener(func(_ context.Context, m core.Message) error {
		mu.Lock()
		attempts = append(attempts, core.Attempt(m))
		mu.Unlock()
		return errors.New("cannot process")
	}))

	cont, err := container.NewSingleContainer(c, p,
		container.WithBackoff(redelivery.Fixed(5*time.Millisecond)),
		container.WithDeadLetterPolicy(redelivery.Policy{MaxRedeliverCount: 2}),
	)
	require.NoError(t, err)
	require.NoError(t, cont.Start(ctx))
	defer cont.Stop(ctx)

	id := publish(t, c, "orders", "k", "payload")

	dead := receive(t, dlq)
	assert.Equal(t, []byte("payload"), dead.Value())
	assert.Equal(t, "orders", dead.Headers()[redelivery.HeaderRealTopic])
	assert.Equal(t, string(id), dead.Headers()[redelivery.HeaderOriginMessageID])
	assert.Equal(t, "2", dead.Headers()[redelivery.HeaderRedeliveryCount])

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestContainer_ConcurrentShared(t *testing.T) {
	c := memory.New()
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{})
	p := container.NewProperties("orders")
	p.SubscriptionName = "sub"
	p.SubscriptionType = core.Shared
	p.AckMode = container.AckModeRecord
	p.SetListener(container.RecordListener(func(_ context.Context, m core.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen[string(m.Value())] = true
		if len(seen) == 9 {
			close(done)
		}
		return nil
	}))

	cont, err := container.NewConcurrentContainer(c, p, 3)
	require.NoError(t, err)
	require.NoError(t, cont.Start(ctx))
	defer cont.Stop(ctx)

	for i := 0; i < 9; i++ {
		publish(t, c, "orders", "", fmt.Sprint(i))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all messages delivered")
	}
	assert.Equal(t, 3, cont.Concurrency())
}
