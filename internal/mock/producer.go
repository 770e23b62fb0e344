package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/miladsoleymani/listenmux/core"
)

// PublishedMessage records a message sent through a Producer.
type PublishedMessage struct {
	Topic   string
	Message core.OutboundMessage
}

// ProducerFactory is a test double for core.ProducerFactory. All producers
// it creates record into the same log.
type ProducerFactory struct {
	mu        sync.Mutex
	published []PublishedMessage
	created   map[string]int

	// ProducerErr fails producer creation.
	ProducerErr error
	// SendErr fails every Send.
	SendErr error
}

// NewProducerFactory returns an empty ProducerFactory.
func NewProducerFactory() *ProducerFactory {
	return &ProducerFactory{created: make(map[string]int)}
}

func (f *ProducerFactory) Producer(_ context.Context, topic string, _ core.Schema) (core.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProducerErr != nil {
		return nil, f.ProducerErr
	}
	f.created[topic]++
	return &producer{factory: f, topic: topic}, nil
}

// SetSendErr changes the error returned by Send.
func (f *ProducerFactory) SetSendErr(err error) {
	f.mu.Lock()
	f.SendErr = err
	f.mu.Unlock()
}

// Published returns all messages sent so far.
func (f *ProducerFactory) Published() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PublishedMessage(nil), f.published...)
}

// Created returns how many producers were created for topic.
func (f *ProducerFactory) Created(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[topic]
}

type producer struct {
	factory *ProducerFactory
	topic   string
}

func (p *producer) Topic() string { return p.topic }

func (p *producer) Send(_ context.Context, msg core.OutboundMessage) (core.MessageID, error) {
	f := p.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.published = append(f.published, PublishedMessage{Topic: p.topic, Message: msg})
	return core.MessageID(fmt.Sprintf("%s:%d", p.topic, len(f.published))), nil
}
