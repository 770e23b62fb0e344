package broker

import "time"

// Config holds broker-agnostic configuration.
// Broker plugins extract the fields they need.
type Config struct {
	// Brokers is a list of broker addresses (e.g., "localhost:9092").
	Brokers []string

	// ClientID names this process to the broker where supported.
	ClientID string

	// DialTimeout bounds connection setup. Zero uses the plugin default.
	DialTimeout time.Duration

	// Extra holds plugin-specific configuration.
	Extra map[string]any
}

// String returns Extra[key] as a string, or def when absent or not a string.
func (c Config) String(key, def string) string {
	if v, ok := c.Extra[key].(string); ok && v != "" {
		return v
	}
	return def
}
