package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/listenmux/core"
)

func TestFilterSubjects(t *testing.T) {
	tests := []struct {
		name string
		opts core.SubscribeOptions
		want []string
	}{
		{"topics", core.SubscribeOptions{Topics: []string{"orders", "payments", "orders"}}, []string{"orders", "payments"}},
		{"single level", core.SubscribeOptions{TopicPattern: "orders.*"}, []string{"orders.*"}},
		{"trailing multi level", core.SubscribeOptions{TopicPattern: "orders.#"}, []string{"orders", "orders.>"}},
		{"nested", core.SubscribeOptions{TopicPattern: "orders.*.#"}, []string{"orders.*", "orders.*.>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterSubjects(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"orders.#.created", "#"} {
		_, err := filterSubjects(core.SubscribeOptions{TopicPattern: bad})
		assert.Error(t, err, bad)
	}
	_, err := filterSubjects(core.SubscribeOptions{})
	assert.Error(t, err)
}

func TestSubjectCovers(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"orders", "orders", true},
		{"orders", "payments", false},
		{"orders.*", "orders.created", true},
		{"orders.*", "orders.*", true},
		{"orders.*", "orders.>", false},
		{"orders.*", "orders", false},
		{"orders.>", "orders.eu.created", true},
		{"orders.>", "orders.*", true},
		{"orders.>", "orders", false},
		{"orders.created", "orders.*", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectCovers(tt.a, tt.b), "%s covers %s", tt.a, tt.b)
	}
}

func TestMergeSubjects(t *testing.T) {
	got := mergeSubjects([]string{"orders.created", "payments"}, []string{"orders.*", "payments", "audit"})
	assert.Equal(t, []string{"payments", "orders.*", "audit"}, got)

	assert.Equal(t, []string{"orders.>"}, mergeSubjects([]string{"orders.>"}, []string{"orders.eu.created"}))
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "orders-sub-v1", durableName("orders.sub v1"))
	assert.Equal(t, "plain", durableName("plain"))
}

func TestHeaders(t *testing.T) {
	h := toHeader(core.OutboundMessage{Key: []byte("k1"), Headers: map[string]string{"trace": "abc"}})
	assert.Equal(t, "k1", h.Get(HeaderKey))
	assert.Equal(t, "abc", h.Get("trace"))

	assert.Equal(t, map[string]string{"trace": "abc"}, fromHeader(h))
	assert.Nil(t, fromHeader(nats.Header{}))
}
