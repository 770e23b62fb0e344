// Package listenmux provides the top-level API for the listenmux container
// engine. It re-exports the main types for convenience, so users can write:
//
//	props := listenmux.NewProperties("orders.created")
//	props.SubscriptionName = "billing"
//	props.SetListener(listenmux.RecordListener(handle))
//	c, err := listenmux.NewSingleContainer(client, props)
//	err = c.Start(ctx)
package listenmux

import (
	"context"

	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
)

// Re-export core and container types at the package level for ergonomic usage.
type (
	Message          = core.Message
	MessageID        = core.MessageID
	Handler          = core.Handler
	Middleware       = core.Middleware
	Client           = core.Client
	SubscriptionType = core.SubscriptionType

	Properties          = container.Properties
	Listener            = container.Listener
	Acknowledgment      = container.Acknowledgment
	Option              = container.Option
	Container           = container.Container
	SingleContainer     = container.SingleContainer
	ConcurrentContainer = container.ConcurrentContainer
	Registry            = container.Registry
)

// Subscription types.
const (
	Exclusive = core.Exclusive
	Shared    = core.Shared
	Failover  = core.Failover
	KeyShared = core.KeyShared
)

// NewProperties returns container properties for topics with defaults applied.
func NewProperties(topics ...string) Properties {
	return container.NewProperties(topics...)
}

// NewPatternProperties returns container properties for a topic pattern.
func NewPatternProperties(pattern string) Properties {
	return container.NewPatternProperties(pattern)
}

// NewSingleContainer creates a container owning one consumer.
func NewSingleContainer(client Client, props Properties, opts ...Option) (*SingleContainer, error) {
	return container.NewSingleContainer(client, props, opts...)
}

// NewConcurrentContainer creates a container owning concurrency consumers on
// the same subscription.
func NewConcurrentContainer(client Client, props Properties, concurrency int, opts ...Option) (*ConcurrentContainer, error) {
	return container.NewConcurrentContainer(client, props, concurrency, opts...)
}

// NewRegistry returns an empty container registry.
func NewRegistry() *Registry {
	return container.NewRegistry()
}

// RecordListener wraps fn as a listener invoked once per message.
func RecordListener(fn func(ctx context.Context, msg Message) error) Listener {
	return container.RecordListener(fn)
}

// BatchListener wraps fn as a listener invoked once per sealed batch.
func BatchListener(fn func(ctx context.Context, msgs []Message) error) Listener {
	return container.BatchListener(fn)
}
