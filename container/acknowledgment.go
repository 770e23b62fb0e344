package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miladsoleymani/listenmux/core"
)

// Acknowledgment settles one delivered message. Handles are given to manual
// listeners. Only the first successful settle has an effect; later calls
// return nil.
type Acknowledgment interface {
	MessageID() core.MessageID

	// Acknowledge marks the message processed.
	Acknowledge(ctx context.Context) error

	// NegativeAcknowledge applies the container's failure handling: the
	// message is dead-lettered when its redeliveries are exhausted, otherwise
	// redelivered after the backoff delay.
	NegativeAcknowledge(ctx context.Context) error

	Settled() bool
}

// delivery is one received message and its settlement state.
type delivery struct {
	msg  core.Message
	size int
	w    *worker

	mu      sync.Mutex
	settled bool
}

var _ Acknowledgment = (*delivery)(nil)

func (d *delivery) MessageID() core.MessageID { return d.msg.ID() }

func (d *delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *delivery) markSettled() {
	d.mu.Lock()
	d.settled = true
	d.mu.Unlock()
}

func (d *delivery) Acknowledge(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return nil
	}
	if err := d.w.consumer.Ack(ctx, d.msg); err != nil {
		return core.NewError(core.ErrCodeAcknowledge, fmt.Sprintf("ack %s", d.msg.ID()), err)
	}
	d.settled = true
	d.w.metrics.MessagesAcknowledged(d.w.sub, 1)
	return nil
}

func (d *delivery) NegativeAcknowledge(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return nil
	}
	return d.reject(ctx)
}

// reject runs the failure path. Callers hold mu.
func (d *delivery) reject(ctx context.Context) error {
	w := d.w
	attempt := core.Attempt(d.msg)

	if w.router != nil && w.router.ShouldRoute(attempt) {
		err := w.router.Route(ctx, w.consumer, d.msg)
		w.metrics.MessageDeadLettered(w.sub, err == nil)
		if err != nil {
			return err
		}
		d.settled = true
		return nil
	}

	var delay time.Duration
	if w.backoff != nil {
		delay = w.backoff.Delay(attempt)
	}
	if err := w.consumer.Nack(ctx, d.msg, delay); err != nil {
		return core.NewError(core.ErrCodeNegativeAcknowledge, fmt.Sprintf("nack %s", d.msg.ID()), err)
	}
	d.settled = true
	w.metrics.MessageNegativelyAcknowledged(w.sub, delay)
	return nil
}
