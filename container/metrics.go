package container

import (
	"time"

	"github.com/miladsoleymani/listenmux/core/middleware"
)

// MetricsCollector receives container events. Listener timings arrive
// through the embedded middleware.MetricsCollector.
type MetricsCollector interface {
	middleware.MetricsCollector

	MessagesReceived(subscription string, n int)
	MessagesAcknowledged(subscription string, n int)
	MessageNegativelyAcknowledged(subscription string, delay time.Duration)
	MessageDeadLettered(subscription string, routed bool)
	StateChanged(containerID string, state State)
}

// NopMetrics discards all events.
type NopMetrics struct{}

var _ MetricsCollector = NopMetrics{}

func (NopMetrics) MessageProcessed(string, int, time.Duration, error)  {}
func (NopMetrics) MessagesReceived(string, int)                        {}
func (NopMetrics) MessagesAcknowledged(string, int)                    {}
func (NopMetrics) MessageNegativelyAcknowledged(string, time.Duration) {}
func (NopMetrics) MessageDeadLettered(string, bool)                    {}
func (NopMetrics) StateChanged(string, State)                          {}
