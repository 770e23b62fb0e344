// Package config loads process settings from the environment and container
// endpoint definitions from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/miladsoleymani/listenmux/broker"
	"github.com/miladsoleymani/listenmux/core"
	"github.com/miladsoleymani/listenmux/redelivery"
)

// DefaultPrefix is the environment variable prefix used by Load.
const DefaultPrefix = "LISTENMUX"

type Broker struct {
	Name        string        `default:"memory" envconfig:"NAME"`
	Addrs       []string      `envconfig:"ADDRS"`
	ClientID    string        `default:"listenmux" envconfig:"CLIENT_ID"`
	DialTimeout time.Duration `default:"10s" envconfig:"DIAL_TIMEOUT"`
}

// Config returns the broker.Config passed to the broker factory.
func (b Broker) Config() broker.Config {
	return broker.Config{
		Brokers:     b.Addrs,
		ClientID:    b.ClientID,
		DialTimeout: b.DialTimeout,
	}
}

type HTTP struct {
	Addr              string        `default:":8080" envconfig:"ADDR"`
	GinMode           string        `default:"release" envconfig:"GIN_MODE"`
	ReadHeaderTimeout time.Duration `default:"5s" envconfig:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `default:"10s" envconfig:"SHUTDOWN_TIMEOUT"`
}

type Metrics struct {
	Namespace string `default:"listenmux" envconfig:"NAMESPACE"`
}

type Logger struct {
	IsProd bool `default:"false" envconfig:"IS_PROD"`
}

type Containers struct {
	// File holds the endpoint definitions.
	File        string        `default:"endpoints.yaml" envconfig:"FILE"`
	StopTimeout time.Duration `default:"30s" envconfig:"STOP_TIMEOUT"`
}

// Redelivery holds the policies registered under the name "default".
type Redelivery struct {
	MinDelay          time.Duration `default:"1s" envconfig:"MIN_DELAY"`
	MaxDelay          time.Duration `default:"1m" envconfig:"MAX_DELAY"`
	Multiplier        float64       `default:"2" envconfig:"MULTIPLIER"`
	MaxRedeliverCount int           `default:"5" envconfig:"MAX_REDELIVER_COUNT"`
	DeadLetterTopic   string        `envconfig:"DEAD_LETTER_TOPIC"`
}

// DefaultPolicyName is the catalog name of the policies built from Redelivery.
const DefaultPolicyName = "default"

// Catalog returns a catalog holding the configured backoff and dead-letter
// policy under DefaultPolicyName.
func (r Redelivery) Catalog() (*redelivery.Catalog, error) {
	b, err := redelivery.NewMultiplierBackoff(r.MinDelay, r.MaxDelay, r.Multiplier)
	if err != nil {
		return nil, core.NewError(core.ErrCodeConfiguration, "redelivery backoff", err)
	}
	c := redelivery.NewCatalog()
	if err := c.RegisterBackoff(DefaultPolicyName, b); err != nil {
		return nil, err
	}
	policy := redelivery.Policy{MaxRedeliverCount: r.MaxRedeliverCount, DeadLetterTopic: r.DeadLetterTopic}
	if err := c.RegisterPolicy(DefaultPolicyName, policy); err != nil {
		return nil, err
	}
	return c, nil
}

type Config struct {
	Broker     Broker
	HTTP       HTTP
	Metrics    Metrics
	Logger     Logger
	Containers Containers
	Redelivery Redelivery
}

// Load reads the configuration from LISTENMUX_* variables.
func Load() (Config, error) {
	return LoadWithPrefix(DefaultPrefix)
}

// LoadWithPrefix reads the configuration from <prefix>_* variables, e.g.
// <prefix>_BROKER_NAME.
func LoadWithPrefix(prefix string) (Config, error) {
	var c Config

	if err := envconfig.Process(prefix, &c); err != nil {
		return Config{}, fmt.Errorf("listenmux: load config: %w", err)
	}

	return c, nil
}

// LoadDotEnv loads the given .env files into the environment, skipping files
// that do not exist. Variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("listenmux: load %s: %w", f, err)
		}
	}
	return nil
}
