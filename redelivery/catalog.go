package redelivery

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/listenmux/core"
)

// ErrUnknownPolicy is returned when a name is not registered in a Catalog.
var ErrUnknownPolicy = errors.New("listenmux: unknown redelivery policy")

// Catalog resolves backoff and dead-letter policies by name so that
// configuration can refer to them.
type Catalog struct {
	mu       sync.RWMutex
	backoffs map[string]Backoff
	policies map[string]Policy
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		backoffs: make(map[string]Backoff),
		policies: make(map[string]Policy),
	}
}

// RegisterBackoff adds a named backoff. Names are unique.
func (c *Catalog) RegisterBackoff(name string, b Backoff) error {
	if name == "" || b == nil {
		return core.NewError(core.ErrCodeConfiguration, "backoff needs a name and a value", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.backoffs[name]; ok {
		return core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("backoff %q already registered", name), nil)
	}
	c.backoffs[name] = b
	return nil
}

// RegisterPolicy validates and adds a named dead-letter policy.
func (c *Catalog) RegisterPolicy(name string, p Policy) error {
	if name == "" {
		return core.NewError(core.ErrCodeConfiguration, "dead-letter policy needs a name", nil)
	}
	if err := p.Validate(); err != nil {
		return core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("dead-letter policy %q", name), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.policies[name]; ok {
		return core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("dead-letter policy %q already registered", name), nil)
	}
	c.policies[name] = p
	return nil
}

// Backoff looks up a backoff by name.
func (c *Catalog) Backoff(name string) (Backoff, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.backoffs[name]
	if !ok {
		return nil, fmt.Errorf("%w: backoff %q", ErrUnknownPolicy, name)
	}
	return b, nil
}

// Policy looks up a dead-letter policy by name.
func (c *Catalog) Policy(name string) (Policy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: dead-letter policy %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Names returns the registered backoff and policy names, sorted.
func (c *Catalog) Names() (backoffs, policies []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for n := range c.backoffs {
		backoffs = append(backoffs, n)
	}
	for n := range c.policies {
		policies = append(policies, n)
	}
	sort.Strings(backoffs)
	sort.Strings(policies)
	return backoffs, policies
}
