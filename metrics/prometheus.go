// Package metrics provides a Prometheus-backed container.MetricsCollector.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miladsoleymani/listenmux/container"
)

var states = []container.State{
	container.StateCreated,
	container.StateStarting,
	container.StateRunning,
	container.StateStopping,
	container.StateStopped,
}

// PrometheusCollector implements container.MetricsCollector. Collectors are
// registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	processed   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	batchSize   *prometheus.HistogramVec
	received    *prometheus.CounterVec
	acked       *prometheus.CounterVec
	nacked      *prometheus.CounterVec
	nackDelay   *prometheus.HistogramVec
	deadLetters *prometheus.CounterVec
	state       *prometheus.GaugeVec
}

var _ container.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector registering with reg (the default
// registerer if nil) under namespace ("listenmux" if empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "listenmux"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.processed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "listener",
			Name:      "invocations_total",
			Help:      "Total listener invocations by topic and result (success, failure).",
		}, []string{"topic", "result"})
		p.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "listener",
			Name:      "duration_seconds",
			Help:      "Listener invocation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"topic"})
		p.batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "listener",
			Name:      "batch_messages",
			Help:      "Number of messages passed per listener invocation.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"topic"})

		p.received = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "received_total",
			Help:      "Total messages received by subscription.",
		}, []string{"subscription"})
		p.acked = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "acknowledged_total",
			Help:      "Total messages acknowledged by subscription.",
		}, []string{"subscription"})
		p.nacked = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "negative_acknowledged_total",
			Help:      "Total messages negatively acknowledged by subscription.",
		}, []string{"subscription"})
		p.nackDelay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "redelivery_delay_seconds",
			Help:      "Requested redelivery delay of negative acknowledgments in seconds.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"subscription"})
		p.deadLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "dead_letters_total",
			Help:      "Total dead-letter routing attempts by subscription and result (routed, failed).",
		}, []string{"subscription", "result"})

		p.state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "container",
			Name:      "state",
			Help:      "1 for the current lifecycle state of each container, 0 otherwise.",
		}, []string{"container", "state"})

		p.reg.MustRegister(p.processed)
		p.reg.MustRegister(p.duration)
		p.reg.MustRegister(p.batchSize)
		p.reg.MustRegister(p.received)
		p.reg.MustRegister(p.acked)
		p.reg.MustRegister(p.nacked)
		p.reg.MustRegister(p.nackDelay)
		p.reg.MustRegister(p.deadLetters)
		p.reg.MustRegister(p.state)
	})
}

func result(ok bool, success, failure string) string {
	if ok {
		return success
	}
	return failure
}

// MessageProcessed records one listener invocation.
func (p *PrometheusCollector) MessageProcessed(topic string, batchSize int, d time.Duration, err error) {
	p.ensureRegistered()
	p.processed.WithLabelValues(topic, result(err == nil, "success", "failure")).Inc()
	p.duration.WithLabelValues(topic).Observe(d.Seconds())
	p.batchSize.WithLabelValues(topic).Observe(float64(batchSize))
}

func (p *PrometheusCollector) MessagesReceived(subscription string, n int) {
	p.ensureRegistered()
	p.received.WithLabelValues(subscription).Add(float64(n))
}

func (p *PrometheusCollector) MessagesAcknowledged(subscription string, n int) {
	p.ensureRegistered()
	p.acked.WithLabelValues(subscription).Add(float64(n))
}

func (p *PrometheusCollector) MessageNegativelyAcknowledged(subscription string, delay time.Duration) {
	p.ensureRegistered()
	p.nacked.WithLabelValues(subscription).Inc()
	p.nackDelay.WithLabelValues(subscription).Observe(delay.Seconds())
}

func (p *PrometheusCollector) MessageDeadLettered(subscription string, routed bool) {
	p.ensureRegistered()
	p.deadLetters.WithLabelValues(subscription, result(routed, "routed", "failed")).Inc()
}

// StateChanged sets the gauge of the new state to 1 and every other state of
// the container to 0.
func (p *PrometheusCollector) StateChanged(containerID string, state container.State) {
	p.ensureRegistered()
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		p.state.WithLabelValues(containerID, s.String()).Set(v)
	}
}
