package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/listenmux/core"
)

// HeaderKey carries the message key, which JetStream has no field for.
const HeaderKey = "Listenmux-Key"

// message adapts a JetStream message to core.Message.
type message struct {
	msg          jetstream.Msg
	id           core.MessageID
	redeliveries int
}

func newMessage(m jetstream.Msg) *message {
	out := &message{msg: m}
	if md, err := m.Metadata(); err == nil {
		out.id = core.MessageID(fmt.Sprintf("%s:%d", md.Stream, md.Sequence.Stream))
		if md.NumDelivered > 0 {
			out.redeliveries = int(md.NumDelivered - 1)
		}
	}
	return out
}

func (m *message) ID() core.MessageID   { return m.id }
func (m *message) Topic() string        { return m.msg.Subject() }
func (m *message) Value() []byte        { return m.msg.Data() }
func (m *message) RedeliveryCount() int { return m.redeliveries }

func (m *message) Key() []byte {
	if k := m.msg.Headers().Get(HeaderKey); k != "" {
		return []byte(k)
	}
	return nil
}

func (m *message) Headers() map[string]string {
	return fromHeader(m.msg.Headers())
}

func fromHeader(raw nats.Header) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	h := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == HeaderKey || len(v) == 0 {
			continue
		}
		h[k] = v[0]
	}
	return h
}

func toHeader(msg core.OutboundMessage) nats.Header {
	h := nats.Header{}
	for k, v := range msg.Headers {
		h.Set(k, v)
	}
	if len(msg.Key) > 0 {
		h.Set(HeaderKey, string(msg.Key))
	}
	return h
}
