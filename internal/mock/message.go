package mock

import "github.com/miladsoleymani/listenmux/core"

// Message is a simple core.Message implementation for testing.
type Message struct {
	MsgID        core.MessageID
	T            string
	K            []byte
	V            []byte
	H            map[string]string
	Redeliveries int
}

func (m *Message) ID() core.MessageID         { return m.MsgID }
func (m *Message) Topic() string              { return m.T }
func (m *Message) Key() []byte                { return m.K }
func (m *Message) Value() []byte              { return m.V }
func (m *Message) Headers() map[string]string { return m.H }
func (m *Message) RedeliveryCount() int       { return m.Redeliveries }
