package core

import "context"

// MessageID identifies a message within the broker binding that delivered it.
// Its format is binding specific and must be treated as opaque.
type MessageID string

// Message is the broker-agnostic message abstraction.
// Implementations are provided by broker plugins.
type Message interface {
	ID() MessageID
	Topic() string
	Key() []byte
	Value() []byte
	Headers() map[string]string

	// RedeliveryCount is zero on the first delivery and grows by one each time
	// the broker hands the message out again.
	RedeliveryCount() int
}

// Attempt returns the 1-based delivery attempt of msg.
func Attempt(msg Message) int {
	return msg.RedeliveryCount() + 1
}

// Handler is the invocation contract shared by every listener shape.
// Record listeners are always invoked with exactly one message.
type Handler func(ctx context.Context, msgs []Message) error

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain wraps h with middleware in reverse order.
// Given middleware [A, B, C], the call order is A -> B -> C -> h.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
