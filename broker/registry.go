package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/listenmux/core"
)

// ErrUnknownBroker is returned by Create for names no plugin registered.
var ErrUnknownBroker = errors.New("listenmux: unknown broker")

// Factory creates a Client from the given Config.
type Factory func(cfg Config) (core.Client, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named client factory. Plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a client by name using the registered factory.
func Create(name string, cfg Config) (core.Client, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBroker, name)
	}
	return f(cfg)
}

// Names returns the registered broker names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
