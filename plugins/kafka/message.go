package kafka

import (
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/listenmux/core"
)

// Headers maintained by this binding.
const (
	// HeaderMessageID carries the id returned by Producer.Send.
	HeaderMessageID = "listenmux-id"

	// HeaderRedeliveryCount is read as the message's redelivery count when
	// present. Kafka itself does not count redeliveries; Nack increments it
	// on the copy it writes back.
	HeaderRedeliveryCount = "REDELIVERY_COUNT"

	// HeaderNotBefore holds the unix milliseconds before which a copy
	// written by a delayed Nack is not handed to the listener.
	HeaderNotBefore = "listenmux-not-before"
)

// message adapts a kafka.Message to core.Message.
type message struct {
	raw       kafka.Message
	id        core.MessageID
	headers   map[string]string
	notBefore time.Time
}

func newMessage(raw kafka.Message) *message {
	m := &message{raw: raw, headers: fromHeaders(raw.Headers)}
	if id, ok := m.headers[HeaderMessageID]; ok {
		m.id = core.MessageID(id)
		delete(m.headers, HeaderMessageID)
	} else {
		m.id = core.MessageID(fmt.Sprintf("%s/%d/%d", raw.Topic, raw.Partition, raw.Offset))
	}
	if v, ok := m.headers[HeaderNotBefore]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			m.notBefore = time.UnixMilli(ms)
		}
		delete(m.headers, HeaderNotBefore)
	}
	return m
}

func (m *message) ID() core.MessageID         { return m.id }
func (m *message) Topic() string              { return m.raw.Topic }
func (m *message) Key() []byte                { return m.raw.Key }
func (m *message) Value() []byte              { return m.raw.Value }
func (m *message) Headers() map[string]string { return m.headers }

func (m *message) RedeliveryCount() int {
	n, err := strconv.Atoi(m.headers[HeaderRedeliveryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// redelivery returns the copy of m that Nack writes back to its topic: same
// key, value and id, one more redelivery, and notBefore when it is set.
func (m *message) redelivery(notBefore time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(m.raw.Headers)+3)
	for _, h := range m.raw.Headers {
		switch h.Key {
		case HeaderMessageID, HeaderRedeliveryCount, HeaderNotBefore:
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderMessageID, Value: []byte(m.id)},
		kafka.Header{Key: HeaderRedeliveryCount, Value: []byte(strconv.Itoa(m.RedeliveryCount() + 1))},
	)
	if !notBefore.IsZero() {
		headers = append(headers, kafka.Header{
			Key:   HeaderNotBefore,
			Value: []byte(strconv.FormatInt(notBefore.UnixMilli(), 10)),
		})
	}
	return kafka.Message{Topic: m.raw.Topic, Key: m.raw.Key, Value: m.raw.Value, Headers: headers}
}

// toHeaders converts a string map to Kafka headers.
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func fromHeaders(raw []kafka.Header) map[string]string {
	h := make(map[string]string, len(raw))
	for _, kh := range raw {
		h[kh.Key] = string(kh.Value)
	}
	return h
}
