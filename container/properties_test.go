package container_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
)

func noopRecord(context.Context, core.Message) error { return nil }

func validProps() container.Properties {
	p := container.NewProperties("orders")
	p.SubscriptionName = "sub"
	p.SetListener(container.RecordListener(noopRecord))
	return p
}

func TestNewProperties_Defaults(t *testing.T) {
	p := container.NewProperties("a", "b")

	assert.Equal(t, []string{"a", "b"}, p.Topics)
	assert.Equal(t, core.Exclusive, p.SubscriptionType)
	assert.Equal(t, container.AckModeBatch, p.AckMode)
	assert.Equal(t, -1, p.MaxNumMessages)
	assert.Equal(t, 10*1024*1024, p.MaxNumBytes)
	assert.Equal(t, 100*time.Millisecond, p.BatchTimeout)
	assert.Equal(t, 30*time.Second, p.ConsumerStartTimeout)
	assert.Equal(t, "bytes", p.Schema.Name())
	assert.False(t, p.BatchListener)
}

func TestProperties_Validate(t *testing.T) {
	require.NoError(t, validProps().Validate())

	tests := []struct {
		name   string
		mutate func(p *container.Properties)
	}{
		{"no topics", func(p *container.Properties) { p.Topics = nil }},
		{"topics and pattern", func(p *container.Properties) { p.TopicPattern = "orders.*" }},
		{"empty topic", func(p *container.Properties) { p.Topics = []string{""} }},
		{"bad pattern", func(p *container.Properties) { p.Topics = nil; p.TopicPattern = "orders.cr*" }},
		{"no subscription", func(p *container.Properties) { p.SubscriptionName = "" }},
		{"no listener", func(p *container.Properties) { p.Listener = container.Listener{} }},
		{"nil schema", func(p *container.Properties) { p.Schema = nil }},
		{"batch flag mismatch", func(p *container.Properties) { p.BatchListener = true }},
		{"manual mode without manual listener", func(p *container.Properties) { p.AckMode = container.AckModeManual }},
		{"manual listener without manual mode", func(p *container.Properties) {
			p.SetListener(container.ManualRecordListener(func(context.Context, core.Message, container.Acknowledgment) error { return nil }))
		}},
		{"zero bytes", func(p *container.Properties) { p.MaxNumBytes = 0 }},
		{"zero batch timeout", func(p *container.Properties) { p.BatchTimeout = 0 }},
		{"negative ack timeout", func(p *container.Properties) { p.Consumer.AckTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProps()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfiguration)
		})
	}
}

func TestProperties_PatternValid(t *testing.T) {
	p := container.NewPatternProperties("orders.#")
	p.SubscriptionName = "sub"
	p.SetListener(container.BatchListener(func(context.Context, []core.Message) error { return nil }))

	require.NoError(t, p.Validate())
	assert.True(t, p.BatchListener)
}

func TestParseAckMode(t *testing.T) {
	m, err := container.ParseAckMode("record")
	require.NoError(t, err)
	assert.Equal(t, container.AckModeRecord, m)

	m, err = container.ParseAckMode("MANUAL")
	require.NoError(t, err)
	assert.Equal(t, container.AckModeManual, m)

	_, err = container.ParseAckMode("sometimes")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestParseConsumerProperties(t *testing.T) {
	cp, err := container.ParseConsumerProperties([]string{
		"subscriptionInitialPosition=Earliest",
		"ackTimeoutMillis = 1500",
	})
	require.NoError(t, err)
	assert.Equal(t, core.Earliest, cp.InitialPosition)
	assert.Equal(t, 1500*time.Millisecond, cp.AckTimeout)

	for _, bad := range [][]string{
		{"nope"},
		{"=value"},
		{"ackTimeoutMillis=soon"},
		{"ackTimeoutMillis=-1"},
		{"receiverQueueSize=10"},
	} {
		_, err := container.ParseConsumerProperties(bad)
		assert.ErrorIs(t, err, core.ErrConfiguration, bad)
	}
}
