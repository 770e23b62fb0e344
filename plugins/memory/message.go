package memory

import "github.com/miladsoleymani/listenmux/core"

// message is one delivery of a published message. Every redelivery is a new
// value so that stale acknowledgments can be told apart.
type message struct {
	id           core.MessageID
	topic        string
	key          []byte
	value        []byte
	headers      map[string]string
	redeliveries int
}

func (m *message) ID() core.MessageID         { return m.id }
func (m *message) Topic() string              { return m.topic }
func (m *message) Key() []byte                { return m.key }
func (m *message) Value() []byte              { return m.value }
func (m *message) Headers() map[string]string { return m.headers }
func (m *message) RedeliveryCount() int       { return m.redeliveries }

// redelivery returns the next delivery of m.
func (m *message) redelivery() *message {
	next := *m
	next.redeliveries++
	return &next
}
