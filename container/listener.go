package container

import (
	"context"
	"fmt"

	"github.com/miladsoleymani/listenmux/core"
)

// ListenerKind is the shape of a listener callback.
type ListenerKind int

const (
	kindNone ListenerKind = iota
	// KindRecord receives one message at a time.
	KindRecord
	// KindBatch receives a sealed batch.
	KindBatch
	// KindManualRecord receives one message and its Acknowledgment.
	KindManualRecord
	// KindManualBatch receives a batch and one Acknowledgment per message.
	KindManualBatch
)

func (k ListenerKind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindBatch:
		return "batch"
	case KindManualRecord:
		return "manual record"
	case KindManualBatch:
		return "manual batch"
	}
	return "none"
}

// Listener is an application callback in one of four shapes. Build it with
// one of the constructors below; the zero value is not usable.
type Listener struct {
	kind         ListenerKind
	record       func(ctx context.Context, msg core.Message) error
	batch        func(ctx context.Context, msgs []core.Message) error
	manualRecord func(ctx context.Context, msg core.Message, ack Acknowledgment) error
	manualBatch  func(ctx context.Context, msgs []core.Message, acks []Acknowledgment) error
}

// RecordListener wraps a single-message callback.
func RecordListener(fn func(ctx context.Context, msg core.Message) error) Listener {
	return Listener{kind: KindRecord, record: fn}
}

// BatchListener wraps a batch callback.
func BatchListener(fn func(ctx context.Context, msgs []core.Message) error) Listener {
	return Listener{kind: KindBatch, batch: fn}
}

// ManualRecordListener wraps a single-message callback that settles the
// message itself.
func ManualRecordListener(fn func(ctx context.Context, msg core.Message, ack Acknowledgment) error) Listener {
	return Listener{kind: KindManualRecord, manualRecord: fn}
}

// ManualBatchListener wraps a batch callback that settles messages itself.
// acks[i] belongs to msgs[i].
func ManualBatchListener(fn func(ctx context.Context, msgs []core.Message, acks []Acknowledgment) error) Listener {
	return Listener{kind: KindManualBatch, manualBatch: fn}
}

// TypedRecordListener decodes each payload with schema before calling fn.
// A payload that fails to decode counts as a listener failure.
func TypedRecordListener[T any](schema core.Schema, fn func(ctx context.Context, v T) error) Listener {
	schema = core.SchemaOrDefault(schema)
	return RecordListener(func(ctx context.Context, msg core.Message) error {
		var v T
		if err := schema.Decode(msg.Value(), &v); err != nil {
			return fmt.Errorf("decode %s: %w", msg.ID(), err)
		}
		return fn(ctx, v)
	})
}

// TypedBatchListener decodes every payload of a batch with schema before
// calling fn.
func TypedBatchListener[T any](schema core.Schema, fn func(ctx context.Context, vs []T) error) Listener {
	schema = core.SchemaOrDefault(schema)
	return BatchListener(func(ctx context.Context, msgs []core.Message) error {
		vs := make([]T, len(msgs))
		for i, msg := range msgs {
			if err := schema.Decode(msg.Value(), &vs[i]); err != nil {
				return fmt.Errorf("decode %s: %w", msg.ID(), err)
			}
		}
		return fn(ctx, vs)
	})
}

// Kind returns the listener shape.
func (l Listener) Kind() ListenerKind { return l.kind }

// IsZero reports whether l was not built by a constructor.
func (l Listener) IsZero() bool {
	switch l.kind {
	case KindRecord:
		return l.record == nil
	case KindBatch:
		return l.batch == nil
	case KindManualRecord:
		return l.manualRecord == nil
	case KindManualBatch:
		return l.manualBatch == nil
	}
	return true
}

// IsBatch reports whether l receives whole batches.
func (l Listener) IsBatch() bool { return l.kind == KindBatch || l.kind == KindManualBatch }

// IsManual reports whether l settles messages itself.
func (l Listener) IsManual() bool { return l.kind == KindManualRecord || l.kind == KindManualBatch }

// adapter turns a Listener into the single invoke call the receive loop uses.
// The shape is resolved once in newAdapter.
type adapter struct {
	call       func(ctx context.Context, units []*delivery) error
	middleware []core.Middleware
}

func newAdapter(l Listener, mws []core.Middleware) adapter {
	a := adapter{middleware: mws}
	switch l.kind {
	case KindRecord:
		a.call = func(ctx context.Context, units []*delivery) error {
			return l.record(ctx, units[0].msg)
		}
	case KindBatch:
		a.call = func(ctx context.Context, units []*delivery) error {
			return l.batch(ctx, messages(units))
		}
	case KindManualRecord:
		a.call = func(ctx context.Context, units []*delivery) error {
			return l.manualRecord(ctx, units[0].msg, units[0])
		}
	case KindManualBatch:
		a.call = func(ctx context.Context, units []*delivery) error {
			acks := make([]Acknowledgment, len(units))
			for i, u := range units {
				acks[i] = u
			}
			return l.manualBatch(ctx, messages(units), acks)
		}
	}
	return a
}

// invoke runs the listener through the middleware chain. Panics become
// errors matching core.ErrListenerInvocation.
func (a adapter) invoke(ctx context.Context, units []*delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewError(core.ErrCodeListenerInvocation, "listener panicked", fmt.Errorf("%v", r))
		}
	}()

	final := func(ctx context.Context, _ []core.Message) error {
		return a.call(ctx, units)
	}
	if err := core.Chain(final, a.middleware...)(ctx, messages(units)); err != nil {
		return core.NewError(core.ErrCodeListenerInvocation, fmt.Sprintf("%d message(s)", len(units)), err)
	}
	return nil
}

func messages(units []*delivery) []core.Message {
	msgs := make([]core.Message, len(units))
	for i, u := range units {
		msgs[i] = u.msg
	}
	return msgs
}
