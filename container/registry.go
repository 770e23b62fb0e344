package container

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/multierr"
)

// ErrDuplicateContainer is returned when a container id is already registered.
var ErrDuplicateContainer = errors.New("listenmux: duplicate container id")

// ErrUnknownContainer is returned when no container has the given id.
var ErrUnknownContainer = errors.New("listenmux: unknown container id")

// Registry indexes containers by id.
type Registry struct {
	containers *xsync.Map[string, Container]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{containers: xsync.NewMap[string, Container]()}
}

// Register adds c under its id.
func (r *Registry) Register(c Container) error {
	if _, loaded := r.containers.LoadOrStore(c.ID(), c); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateContainer, c.ID())
	}
	return nil
}

// Unregister removes the container with the given id and returns it. The
// container is not stopped.
func (r *Registry) Unregister(id string) (Container, bool) {
	return r.containers.LoadAndDelete(id)
}

// Container returns the container registered under id.
func (r *Registry) Container(id string) (Container, error) {
	c, ok := r.containers.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContainer, id)
	}
	return c, nil
}

// IDs returns every registered id in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, r.containers.Size())
	r.containers.Range(func(id string, _ Container) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Containers returns every registered container ordered by id.
func (r *Registry) Containers() []Container {
	ids := r.IDs()
	out := make([]Container, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.containers.Load(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// StartAll starts every container in id order and stops at the first failure.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, c := range r.Containers() {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("listenmux: start %s: %w", c.ID(), err)
		}
	}
	return nil
}

// StopAll stops every container and returns their combined errors.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs error
	for _, c := range r.Containers() {
		if err := c.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("listenmux: stop %s: %w", c.ID(), err))
		}
	}
	return errs
}
