package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/miladsoleymani/listenmux/container"
	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/redelivery"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Endpoint describes one container. Listeners, backoffs and dead-letter
// policies are referred to by name and resolved when the container is built.
type Endpoint struct {
	ID               string   `yaml:"id"`
	Topics           []string `yaml:"topics"`
	TopicPattern     string   `yaml:"topic_pattern"`
	Subscription     string   `yaml:"subscription"`
	SubscriptionType string   `yaml:"subscription_type"`
	Schema           string   `yaml:"schema"`
	Listener         string   `yaml:"listener"`
	AckMode          string   `yaml:"ack_mode"`
	Concurrency      int      `yaml:"concurrency"`

	// Batch bounds. Unset fields keep the container defaults.
	MaxNumMessages *int          `yaml:"max_num_messages"`
	MaxNumBytes    int           `yaml:"max_num_bytes"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`

	ConsumerStartTimeout time.Duration `yaml:"consumer_start_timeout"`

	// Properties are "key=value" consumer properties.
	Properties []string `yaml:"properties"`

	Backoff    string `yaml:"backoff"`
	DeadLetter string `yaml:"dead_letter"`
}

type endpointFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// Validate checks the fields that can be checked without resolving names.
func (e Endpoint) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, validation.Match(idPattern)),
		validation.Field(&e.Topics,
			validation.When(e.TopicPattern == "", validation.Required.Error("one of topics or topic_pattern is required")).
				Else(validation.Empty.Error("must be empty when topic_pattern is set")),
		),
		validation.Field(&e.Subscription, validation.Required),
		validation.Field(&e.SubscriptionType, validation.By(func(any) error {
			if e.SubscriptionType == "" {
				return nil
			}
			_, err := core.ParseSubscriptionType(e.SubscriptionType)
			return err
		})),
		validation.Field(&e.Schema, validation.In("", "json", "bytes", "string")),
		validation.Field(&e.Listener, validation.Required),
		validation.Field(&e.AckMode, validation.By(func(any) error {
			if e.AckMode == "" {
				return nil
			}
			_, err := container.ParseAckMode(e.AckMode)
			return err
		})),
		validation.Field(&e.Concurrency, validation.Min(0)),
		validation.Field(&e.MaxNumBytes, validation.Min(0)),
		validation.Field(&e.BatchTimeout, validation.Min(time.Duration(0))),
		validation.Field(&e.ConsumerStartTimeout, validation.Min(time.Duration(0))),
	)
}

// LoadEndpoints reads endpoint definitions from a YAML file.
func LoadEndpoints(path string) ([]Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("listenmux: read endpoints: %w", err)
	}
	return ParseEndpoints(data)
}

// ParseEndpoints decodes and validates endpoint definitions. Unknown fields
// and duplicate ids are rejected.
func ParseEndpoints(data []byte) ([]Endpoint, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f endpointFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("listenmux: parse endpoints: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Endpoints))
	for i, e := range f.Endpoints {
		if err := e.Validate(); err != nil {
			return nil, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("endpoint %d (%s)", i, e.ID), err)
		}
		if _, ok := seen[e.ID]; ok {
			return nil, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("duplicate endpoint id %q", e.ID), nil)
		}
		seen[e.ID] = struct{}{}
	}
	return f.Endpoints, nil
}

// SchemaByName returns the schema for "json", "string" or "bytes". The empty
// name selects bytes.
func SchemaByName(name string) (core.Schema, error) {
	switch strings.ToLower(name) {
	case "", "bytes":
		return core.BytesSchema{}, nil
	case "json":
		return core.JSONSchema{}, nil
	case "string":
		return core.StringSchema{}, nil
	}
	return nil, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("unknown schema %q", name), nil)
}

// ContainerProperties converts e into container.Properties with listener l.
// The ack mode defaults to MANUAL for manual listeners and BATCH otherwise.
func (e Endpoint) ContainerProperties(l container.Listener) (container.Properties, error) {
	var p container.Properties
	if e.TopicPattern != "" {
		p = container.NewPatternProperties(e.TopicPattern)
	} else {
		p = container.NewProperties(e.Topics...)
	}
	p.SubscriptionName = e.Subscription
	p.SetListener(l)

	if e.SubscriptionType != "" {
		st, err := core.ParseSubscriptionType(e.SubscriptionType)
		if err != nil {
			return p, err
		}
		p.SubscriptionType = st
	}

	schema, err := SchemaByName(e.Schema)
	if err != nil {
		return p, err
	}
	p.Schema = schema

	switch {
	case e.AckMode != "":
		mode, err := container.ParseAckMode(e.AckMode)
		if err != nil {
			return p, err
		}
		p.AckMode = mode
	case l.IsManual():
		p.AckMode = container.AckModeManual
	}

	if e.MaxNumMessages != nil {
		p.MaxNumMessages = *e.MaxNumMessages
	}
	if e.MaxNumBytes > 0 {
		p.MaxNumBytes = e.MaxNumBytes
	}
	if e.BatchTimeout > 0 {
		p.BatchTimeout = e.BatchTimeout
	}
	if e.ConsumerStartTimeout > 0 {
		p.ConsumerStartTimeout = e.ConsumerStartTimeout
	}

	cp, err := container.ParseConsumerProperties(e.Properties)
	if err != nil {
		return p, err
	}
	p.Consumer = cp

	return p, p.Validate()
}

// ContainerOptions resolves the named backoff and dead-letter policy through
// catalog and returns them together with the endpoint id as options.
func (e Endpoint) ContainerOptions(catalog *redelivery.Catalog) ([]container.Option, error) {
	opts := []container.Option{container.WithID(e.ID)}
	if e.Backoff != "" {
		b, err := catalog.Backoff(e.Backoff)
		if err != nil {
			return nil, err
		}
		opts = append(opts, container.WithBackoff(b))
	}
	if e.DeadLetter != "" {
		p, err := catalog.Policy(e.DeadLetter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, container.WithDeadLetterPolicy(p))
	}
	return opts, nil
}

// Build creates the container for e: a SingleContainer when the concurrency
// is at most one and a ConcurrentContainer otherwise. listeners maps listener
// names to listeners. opts are applied after the endpoint's own options.
func (e Endpoint) Build(
	client core.Client,
	listeners map[string]container.Listener,
	catalog *redelivery.Catalog,
	opts ...container.Option,
) (container.Container, error) {
	l, ok := listeners[e.Listener]
	if !ok {
		return nil, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("endpoint %s: unknown listener %q", e.ID, e.Listener), nil)
	}
	props, err := e.ContainerProperties(l)
	if err != nil {
		return nil, err
	}
	base, err := e.ContainerOptions(catalog)
	if err != nil {
		return nil, err
	}
	opts = append(base, opts...)

	if e.Concurrency <= 1 {
		c, err := container.NewSingleContainer(client, props, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := container.NewConcurrentContainer(client, props, e.Concurrency, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}
