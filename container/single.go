package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/core/middleware"
	"github.com/miladsoleymani/listenmux/redelivery"
)

// SingleContainer drives exactly one broker consumer through a receive loop
// and applies the configured acknowledgment discipline.
//
// A SingleContainer is created stopped. Start subscribes and launches the
// loop; Stop waits for the in-flight listener call, closes the consumer and
// returns. Both are idempotent and a stopped container may be started again.
type SingleContainer struct {
	client  core.Client
	props   Properties
	opts    options
	adapter adapter
	life    *lifecycle

	cancel context.CancelFunc
	done   chan struct{}
	worker *worker

	// gate orders Stop against deliveries. stopping is set under gate before
	// the loop is cancelled; a delivery that passed the gate earlier is in
	// flight and Stop waits for it, and none passes afterwards.
	gate     sync.Mutex
	stopping bool
}

var _ Container = (*SingleContainer)(nil)

// NewSingleContainer validates props and builds a stopped container.
func NewSingleContainer(client core.Client, props Properties, opts ...Option) (*SingleContainer, error) {
	if client == nil {
		return nil, core.ErrNoClient
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}
	o, err := resolveOptions(client, props, opts)
	if err != nil {
		return nil, err
	}
	return newSingle(client, props.clone(), o), nil
}

func newSingle(client core.Client, props Properties, o options) *SingleContainer {
	mws := make([]core.Middleware, 0, len(o.middleware)+1)
	mws = append(mws, o.middleware...)
	mws = append(mws, middleware.Metrics(o.metrics))
	return &SingleContainer{
		client:  client,
		props:   props,
		opts:    o,
		adapter: newAdapter(props.Listener, mws),
		life:    newLifecycle(o.id, o.logger, o.metrics),
	}
}

func (c *SingleContainer) ID() string { return c.opts.id }

// Properties returns a copy of the container's properties.
func (c *SingleContainer) Properties() Properties { return c.props.clone() }

func (c *SingleContainer) State() State { return c.life.State() }

func (c *SingleContainer) IsRunning() bool { return c.State() == StateRunning }

// Start subscribes the consumer and launches the receive loop. It fails with
// an error matching core.ErrConsumerStart when the subscription is not set up
// within ConsumerStartTimeout. Start on a running container is a no-op.
func (c *SingleContainer) Start(ctx context.Context) error {
	c.life.mu.Lock()
	defer c.life.mu.Unlock()

	if c.life.State() == StateRunning {
		return nil
	}
	if err := c.life.transition(StateStarting); err != nil {
		return err
	}

	consumer, err := c.subscribe(ctx)
	if err != nil {
		_ = c.life.transition(StateStopped)
		c.opts.logger.Error("container failed to start", "container_id", c.ID(), "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.setStopping(false)

	c.cancel = cancel
	c.done = make(chan struct{})
	c.worker = newWorker(runCtx, c, consumer)
	go c.worker.run(runCtx, c.done)

	_ = c.life.transition(StateRunning)
	c.opts.logger.Info("container started",
		"container_id", c.ID(),
		"subscription", c.props.SubscriptionName,
		"subscription_type", c.props.SubscriptionType.String(),
		"ack_mode", c.props.AckMode.String(),
	)
	return nil
}

func (c *SingleContainer) subscribe(ctx context.Context) (core.Consumer, error) {
	timeout := c.props.ConsumerStartTimeout
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		consumer core.Consumer
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		cons, err := c.client.Subscribe(subCtx, c.props.subscribeOptions())
		ch <- result{consumer: cons, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, core.NewError(core.ErrCodeConsumerStart, fmt.Sprintf("subscribe %q", c.props.SubscriptionName), r.err)
		}
		return r.consumer, nil
	case <-subCtx.Done():
		// a consumer that shows up late is closed rather than leaked
		go func() {
			if r := <-ch; r.err == nil && r.consumer != nil {
				_ = r.consumer.Close(context.Background())
			}
		}()
		return nil, core.NewError(core.ErrCodeConsumerStart,
			fmt.Sprintf("subscribe %q did not complete within %s", c.props.SubscriptionName, timeout), subCtx.Err())
	}
}

// Stop waits for the in-flight listener call, acknowledges pending BATCH-mode
// messages, closes the consumer and returns. A delivery admitted before Stop
// closed the gate counts as in flight; no listener call is admitted after. If ctx ends first the consumer
// is closed anyway and the error reports the abandoned loop. Stop on a
// container that is not running is a no-op. Stop must not be called from
// inside the listener.
func (c *SingleContainer) Stop(ctx context.Context) error {
	c.life.mu.Lock()
	defer c.life.mu.Unlock()

	if c.life.State() != StateRunning {
		return nil
	}
	_ = c.life.transition(StateStopping)

	c.setStopping(true)
	c.cancel()

	var err error
	select {
	case <-c.done:
		c.worker.flush(ctx)
	case <-ctx.Done():
		err = fmt.Errorf("listenmux: container %s: receive loop did not exit: %w", c.ID(), ctx.Err())
	}
	if cerr := c.worker.consumer.Close(ctx); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("listenmux: container %s: close consumer: %w", c.ID(), cerr))
	}

	_ = c.life.transition(StateStopped)
	c.opts.logger.Info("container stopped", "container_id", c.ID())
	return err
}

func (c *SingleContainer) setStopping(v bool) {
	c.gate.Lock()
	c.stopping = v
	c.gate.Unlock()
}

// admit reports whether a listener call may begin.
func (c *SingleContainer) admit() bool {
	c.gate.Lock()
	defer c.gate.Unlock()
	return !c.stopping
}

var errWindowElapsed = errors.New("listenmux: batch window elapsed")

// worker owns the consumer for one Start..Stop cycle.
type worker struct {
	c         *SingleContainer
	consumer  core.Consumer
	settleCtx context.Context

	sub     string
	logger  core.Logger
	metrics MetricsCollector
	backoff redelivery.Backoff
	router  *redelivery.Router

	window *batch // batch listener accumulation
	acks   *batch // BATCH-mode acknowledgments for record listeners
}

func newWorker(runCtx context.Context, c *SingleContainer, consumer core.Consumer) *worker {
	return &worker{
		c:         c,
		consumer:  consumer,
		settleCtx: context.WithoutCancel(runCtx),
		sub:       c.props.SubscriptionName,
		logger:    c.opts.logger,
		metrics:   c.opts.metrics,
		backoff:   c.opts.backoff,
		router:    c.opts.router,
		window:    newBatch(c.props),
		acks:      newBatch(c.props),
	}
}

func (w *worker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if w.c.props.BatchListener {
		w.batchLoop(ctx)
	} else {
		w.recordLoop(ctx)
	}
}

func (w *worker) recordLoop(ctx context.Context) {
	for {
		msg, err := w.receive(ctx, w.acks.deadline())
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, errWindowElapsed):
			w.flush(w.settleCtx)
			continue
		default:
			w.receiveFailed(ctx, err)
			continue
		}

		if !w.deliver([]*delivery{w.newDelivery(msg)}) {
			return
		}
		if w.acks.full() || w.acks.expired(time.Now()) {
			w.flush(w.settleCtx)
		}
	}
}

func (w *worker) batchLoop(ctx context.Context) {
	for {
		msg, err := w.receive(ctx, w.window.deadline())
		switch {
		case err == nil:
			w.window.add(w.newDelivery(msg), time.Now())
			if !w.window.full() {
				continue
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, errWindowElapsed):
			if w.window.len() == 0 {
				continue
			}
		default:
			w.receiveFailed(ctx, err)
			continue
		}

		if !w.deliver(w.window.drain()) {
			return
		}
	}
}

// receive waits for the next message until deadline, or indefinitely when
// deadline is zero. It returns errWindowElapsed once deadline passes.
func (w *worker) receive(ctx context.Context, deadline time.Time) (core.Message, error) {
	rctx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		rctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	msg, err := w.consumer.Receive(rctx)
	switch {
	case err == nil:
		return msg, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case rctx.Err() != nil:
		return nil, errWindowElapsed
	}
	return nil, err
}

func (w *worker) receiveFailed(ctx context.Context, err error) {
	w.logger.Warn("receive failed", "subscription", w.sub, "error", err)
	t := time.NewTimer(w.c.opts.receiveErrorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *worker) newDelivery(msg core.Message) *delivery {
	w.metrics.MessagesReceived(w.sub, 1)
	return &delivery{msg: msg, size: len(msg.Value()), w: w}
}

// deliver invokes the listener and settles units. It returns false without
// invoking anything once Stop has been called.
func (w *worker) deliver(units []*delivery) bool {
	if !w.c.admit() {
		return false
	}

	err := w.c.adapter.invoke(w.settleCtx, units)
	w.settle(units, err)
	return true
}

func (w *worker) settle(units []*delivery, err error) {
	ctx := w.settleCtx
	if err != nil {
		w.logger.Warn("listener failed", "subscription", w.sub, "messages", len(units), "error", err)
		for _, u := range units {
			if rerr := u.NegativeAcknowledge(ctx); rerr != nil {
				w.logger.Error("failure handling did not settle message",
					"subscription", w.sub, "message_id", u.msg.ID(), "error", rerr)
			}
		}
		return
	}

	props := w.c.props
	switch {
	case props.AckMode == AckModeManual:
	case props.AckMode == AckModeBatch && !props.BatchListener:
		now := time.Now()
		for _, u := range units {
			w.acks.add(u, now)
		}
	default:
		w.ackAll(ctx, units)
	}
}

// flush acknowledges BATCH-mode messages that are waiting for the boundary.
func (w *worker) flush(ctx context.Context) {
	if w.acks.len() == 0 {
		return
	}
	w.ackAll(ctx, w.acks.drain())
}

func (w *worker) ackAll(ctx context.Context, units []*delivery) {
	pending := make([]*delivery, 0, len(units))
	for _, u := range units {
		if !u.Settled() {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		return
	}

	if ba, ok := w.consumer.(core.BatchAcker); ok && len(pending) > 1 {
		if err := ba.AckAll(ctx, messages(pending)); err != nil {
			w.logger.Warn("acknowledge failed",
				"subscription", w.sub,
				"messages", len(pending),
				"error", core.NewError(core.ErrCodeAcknowledge, "cumulative ack", err),
			)
			return
		}
		for _, u := range pending {
			u.markSettled()
		}
		w.metrics.MessagesAcknowledged(w.sub, len(pending))
		return
	}

	for _, u := range pending {
		if err := u.Acknowledge(ctx); err != nil {
			w.logger.Warn("acknowledge failed", "subscription", w.sub, "message_id", u.msg.ID(), "error", err)
		}
	}
}
