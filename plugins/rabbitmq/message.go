package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/listenmux/core"
)

// Headers maintained by this binding.
const (
	// HeaderKey carries the message key, which AMQP has no property for.
	HeaderKey = "listenmux-key"

	// HeaderRedeliveryCount counts the times Nack put the message back on
	// its queue.
	HeaderRedeliveryCount = "listenmux-redelivery-count"

	// HeaderTopic keeps the original routing key of a message Nack put back
	// through the default exchange.
	HeaderTopic = "listenmux-topic"
)

// headerDeliveryCount is maintained by quorum queues.
const headerDeliveryCount = "x-delivery-count"

// message adapts an amqp.Delivery to core.Message.
type message struct {
	delivery amqp.Delivery
	queue    string
	headers  map[string]string
}

func newMessage(d amqp.Delivery, queue string) *message {
	h := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		switch k {
		case HeaderKey, HeaderRedeliveryCount, HeaderTopic, headerDeliveryCount:
			continue
		}
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	return &message{delivery: d, queue: queue, headers: h}
}

// ID returns the publisher's message id, or queue and delivery tag for
// messages published without one.
func (m *message) ID() core.MessageID {
	if m.delivery.MessageId != "" {
		return core.MessageID(m.delivery.MessageId)
	}
	return core.MessageID(fmt.Sprintf("%s/%d", m.queue, m.delivery.DeliveryTag))
}

func (m *message) Value() []byte              { return m.delivery.Body }
func (m *message) Headers() map[string]string { return m.headers }

func (m *message) Topic() string {
	if t, ok := m.delivery.Headers[HeaderTopic].(string); ok {
		return t
	}
	return m.delivery.RoutingKey
}
func (m *message) Key() []byte {
	if k, ok := m.delivery.Headers[HeaderKey].(string); ok {
		return []byte(k)
	}
	return nil
}

// RedeliveryCount adds the broker's own redeliveries of this copy to the
// count carried in HeaderRedeliveryCount. The broker side is the quorum
// queue delivery count when present; classic queues only flag a
// redelivery, which counts as one.
func (m *message) RedeliveryCount() int {
	n, _ := intHeader(m.delivery.Headers[HeaderRedeliveryCount])
	if dc, ok := intHeader(m.delivery.Headers[headerDeliveryCount]); ok {
		return n + dc
	}
	if m.delivery.Redelivered {
		return n + 1
	}
	return n
}

func intHeader(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// redelivery returns the copy of m that Nack publishes back to its queue,
// with the id and topic pinned and one more redelivery counted.
func (m *message) redelivery() amqp.Publishing {
	d := m.delivery
	h := make(amqp.Table, len(d.Headers)+2)
	for k, v := range d.Headers {
		if k != headerDeliveryCount {
			h[k] = v
		}
	}
	h[HeaderRedeliveryCount] = int64(m.RedeliveryCount() + 1)
	h[HeaderTopic] = m.Topic()
	return amqp.Publishing{
		Headers:         h,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationId:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		MessageId:       string(m.ID()),
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		AppId:           d.AppId,
		Body:            d.Body,
	}
}

func toTable(msg core.OutboundMessage) amqp.Table {
	t := make(amqp.Table, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		t[k] = v
	}
	if len(msg.Key) > 0 {
		t[HeaderKey] = string(msg.Key)
	}
	return t
}
