package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SubscriptionType controls how a subscription hands messages to the
// consumers attached to it.
type SubscriptionType int

const (
	// Exclusive admits a single consumer.
	Exclusive SubscriptionType = iota
	// Shared distributes messages round-robin across consumers.
	Shared
	// Failover keeps one active consumer and the rest on standby.
	Failover
	// KeyShared distributes messages across consumers by message key.
	KeyShared
)

var subscriptionTypeNames = map[SubscriptionType]string{
	Exclusive: "Exclusive",
	Shared:    "Shared",
	Failover:  "Failover",
	KeyShared: "Key_Shared",
}

func (t SubscriptionType) String() string {
	if s, ok := subscriptionTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("SubscriptionType(%d)", int(t))
}

// ParseSubscriptionType parses the names produced by SubscriptionType.String.
// Matching is case-insensitive and also accepts "KeyShared".
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	for t, name := range subscriptionTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	if strings.EqualFold(s, "KeyShared") {
		return KeyShared, nil
	}
	return 0, NewError(ErrCodeConfiguration, fmt.Sprintf("unknown subscription type %q", s), nil)
}

// InitialPosition selects where a new subscription starts reading.
type InitialPosition int

const (
	// Latest starts with messages published after the subscription is created.
	Latest InitialPosition = iota
	// Earliest starts with the oldest retained message.
	Earliest
)

func (p InitialPosition) String() string {
	if p == Earliest {
		return "Earliest"
	}
	return "Latest"
}

// ParseInitialPosition parses "Latest" or "Earliest", case-insensitively.
func ParseInitialPosition(s string) (InitialPosition, error) {
	switch {
	case strings.EqualFold(s, "Latest"):
		return Latest, nil
	case strings.EqualFold(s, "Earliest"):
		return Earliest, nil
	}
	return 0, NewError(ErrCodeConfiguration, fmt.Sprintf("unknown initial position %q", s), nil)
}

// SubscribeOptions describes the subscription a consumer attaches to.
// Exactly one of Topics and TopicPattern is set.
type SubscribeOptions struct {
	Topics           []string
	TopicPattern     string
	SubscriptionName string
	SubscriptionType SubscriptionType
	Schema           Schema
	InitialPosition  InitialPosition

	// AckTimeout is how long the broker waits for an acknowledgment before
	// redelivering. Zero keeps the binding default.
	AckTimeout time.Duration
}

// Client is the contract every broker binding implements.
type Client interface {
	ProducerFactory

	// Subscribe attaches a new consumer to the described subscription.
	Subscribe(ctx context.Context, opts SubscribeOptions) (Consumer, error)

	Close() error
}

// Consumer is a single attachment to a subscription.
type Consumer interface {
	// Receive blocks until a message is available or ctx is done, in which
	// case the context error is returned.
	Receive(ctx context.Context) (Message, error)

	Ack(ctx context.Context, msg Message) error

	// Nack asks the broker to redeliver msg after delay. A delay <= 0 leaves
	// the choice to the broker.
	Nack(ctx context.Context, msg Message, delay time.Duration) error

	// Close detaches the consumer. Unsettled messages return to the broker.
	Close(ctx context.Context) error
}

// BatchAcker is implemented by consumers that can settle several messages in
// one broker round trip.
type BatchAcker interface {
	AckAll(ctx context.Context, msgs []Message) error
}
