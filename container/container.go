// Package container runs listener containers: long-lived objects that keep
// broker consumers subscribed, hand received messages to application
// listeners and settle them according to an acknowledgment mode.
//
// A SingleContainer owns one consumer. A ConcurrentContainer fans a
// subscription out over several SingleContainers. A Registry indexes
// containers by id for lifecycle owners.
package container

import "context"

// Container is the lifecycle contract shared by every container.
type Container interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() State
	IsRunning() bool
	Properties() Properties
}
