package container

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/miladsoleymani/listenmux/core"
)

// AckMode selects who acknowledges delivered messages and when.
type AckMode int

const (
	// AckModeBatch acknowledges processed messages together at the batch boundary.
	AckModeBatch AckMode = iota
	// AckModeRecord acknowledges each message right after the listener returns.
	AckModeRecord
	// AckModeManual leaves acknowledgment to the listener.
	AckModeManual
)

func (m AckMode) String() string {
	switch m {
	case AckModeBatch:
		return "BATCH"
	case AckModeRecord:
		return "RECORD"
	case AckModeManual:
		return "MANUAL"
	}
	return fmt.Sprintf("AckMode(%d)", int(m))
}

// ParseAckMode parses BATCH, RECORD or MANUAL, case-insensitively.
func ParseAckMode(s string) (AckMode, error) {
	for _, m := range []AckMode{AckModeBatch, AckModeRecord, AckModeManual} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("unknown ack mode %q", s), nil)
}

// Defaults applied by NewProperties and NewPatternProperties.
const (
	DefaultMaxNumMessages       = -1
	DefaultMaxNumBytes          = 10 * 1024 * 1024
	DefaultBatchTimeout         = 100 * time.Millisecond
	DefaultConsumerStartTimeout = 30 * time.Second
)

// Properties configures a container. A container copies its Properties when
// it is built; later changes to the caller's value have no effect.
type Properties struct {
	// Topics and TopicPattern are mutually exclusive.
	Topics       []string
	TopicPattern string

	SubscriptionName string
	SubscriptionType core.SubscriptionType
	Schema           core.Schema

	Listener Listener
	AckMode  AckMode

	// MaxNumMessages bounds a batch by count. Zero or negative means unbounded.
	MaxNumMessages int
	MaxNumBytes    int
	BatchTimeout   time.Duration
	BatchListener  bool

	ConsumerStartTimeout time.Duration
	Consumer             ConsumerProperties
}

// NewProperties returns Properties for an explicit topic list with defaults applied.
func NewProperties(topics ...string) Properties {
	p := defaultProperties()
	p.Topics = append([]string(nil), topics...)
	return p
}

// NewPatternProperties returns Properties for a topic pattern with defaults applied.
func NewPatternProperties(pattern string) Properties {
	p := defaultProperties()
	p.TopicPattern = pattern
	return p
}

func defaultProperties() Properties {
	return Properties{
		SubscriptionType:     core.Exclusive,
		Schema:               core.BytesSchema{},
		AckMode:              AckModeBatch,
		MaxNumMessages:       DefaultMaxNumMessages,
		MaxNumBytes:          DefaultMaxNumBytes,
		BatchTimeout:         DefaultBatchTimeout,
		ConsumerStartTimeout: DefaultConsumerStartTimeout,
	}
}

// SetListener sets the listener and keeps BatchListener in line with its shape.
func (p *Properties) SetListener(l Listener) {
	p.Listener = l
	p.BatchListener = l.IsBatch()
}

// Validate checks the properties and returns an error matching
// core.ErrConfiguration.
func (p Properties) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Topics,
			validation.When(p.TopicPattern == "", validation.Required.Error("one of topics or topic pattern is required")).
				Else(validation.Empty.Error("must be empty when a topic pattern is set")),
			validation.Each(validation.Required),
		),
		validation.Field(&p.TopicPattern, validation.When(p.TopicPattern != "", validation.By(validPattern))),
		validation.Field(&p.SubscriptionName, validation.Required),
		validation.Field(&p.SubscriptionType, validation.In(core.Exclusive, core.Shared, core.Failover, core.KeyShared)),
		validation.Field(&p.Schema, validation.NotNil),
		validation.Field(&p.Listener, validation.By(p.listenerMatches)),
		validation.Field(&p.AckMode, validation.In(AckModeBatch, AckModeRecord, AckModeManual)),
		validation.Field(&p.MaxNumBytes, validation.Required, validation.Min(1)),
		validation.Field(&p.BatchTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.ConsumerStartTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.Consumer),
	)
	if err != nil {
		return core.NewError(core.ErrCodeConfiguration, "invalid container properties", err)
	}
	return nil
}

func validPattern(value any) error {
	s, _ := value.(string)
	return core.ValidatePattern(s)
}

func (p Properties) listenerMatches(any) error {
	l := p.Listener
	switch {
	case l.IsZero():
		return fmt.Errorf("is required")
	case l.IsBatch() != p.BatchListener:
		return fmt.Errorf("%s listener does not match BatchListener=%t", l.Kind(), p.BatchListener)
	case l.IsManual() && p.AckMode != AckModeManual:
		return fmt.Errorf("%s listener requires ack mode MANUAL, got %s", l.Kind(), p.AckMode)
	case !l.IsManual() && p.AckMode == AckModeManual:
		return fmt.Errorf("ack mode MANUAL requires a manual listener, got %s", l.Kind())
	}
	return nil
}

func (p Properties) clone() Properties {
	c := p
	c.Topics = append([]string(nil), p.Topics...)
	return c
}

func (p Properties) subscribeOptions() core.SubscribeOptions {
	return core.SubscribeOptions{
		Topics:           append([]string(nil), p.Topics...),
		TopicPattern:     p.TopicPattern,
		SubscriptionName: p.SubscriptionName,
		SubscriptionType: p.SubscriptionType,
		Schema:           p.Schema,
		InitialPosition:  p.Consumer.InitialPosition,
		AckTimeout:       p.Consumer.AckTimeout,
	}
}

// ConsumerProperties are broker consumer settings passed through at
// subscription time.
type ConsumerProperties struct {
	InitialPosition core.InitialPosition
	AckTimeout      time.Duration
}

// Validate implements validation.Validatable.
func (c ConsumerProperties) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.InitialPosition, validation.In(core.Latest, core.Earliest)),
		validation.Field(&c.AckTimeout, validation.Min(time.Duration(0))),
	)
}

// Consumer property keys accepted by ParseConsumerProperties.
const (
	PropertyInitialPosition  = "subscriptionInitialPosition"
	PropertyAckTimeoutMillis = "ackTimeoutMillis"
)

// ParseConsumerProperties parses "key=value" entries. Unknown keys and
// malformed values are rejected.
func ParseConsumerProperties(entries []string) (ConsumerProperties, error) {
	var cp ConsumerProperties
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" {
			return ConsumerProperties{}, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("malformed consumer property %q", entry), nil)
		}
		switch key {
		case PropertyInitialPosition:
			pos, err := core.ParseInitialPosition(value)
			if err != nil {
				return ConsumerProperties{}, err
			}
			cp.InitialPosition = pos
		case PropertyAckTimeoutMillis:
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil || ms < 0 {
				return ConsumerProperties{}, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("invalid %s %q", key, value), err)
			}
			cp.AckTimeout = time.Duration(ms) * time.Millisecond
		default:
			return ConsumerProperties{}, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("unknown consumer property %q", key), nil)
		}
	}
	return cp, nil
}
