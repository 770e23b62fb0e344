package container

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/miladsoleymani/listenmux/core"
)

// ConcurrentContainer runs the same subscription on several SingleContainers.
// Children share the subscription name, so the broker spreads messages
// between them according to the subscription type.
type ConcurrentContainer struct {
	id       string
	props    Properties
	logger   core.Logger
	children []*SingleContainer

	mu sync.Mutex
}

var _ Container = (*ConcurrentContainer)(nil)

// NewConcurrentContainer validates props and builds concurrency stopped
// children. An Exclusive subscription with concurrency greater than one
// fails with core.ErrInvalidConcurrencyConfig before any child is built.
func NewConcurrentContainer(client core.Client, props Properties, concurrency int, opts ...Option) (*ConcurrentContainer, error) {
	if client == nil {
		return nil, core.ErrNoClient
	}
	if concurrency < 1 {
		return nil, core.NewError(core.ErrCodeConfiguration, fmt.Sprintf("concurrency must be at least 1, got %d", concurrency), nil)
	}
	if concurrency > 1 && props.SubscriptionType == core.Exclusive {
		return nil, core.ErrInvalidConcurrencyConfig
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}
	o, err := resolveOptions(client, props, opts)
	if err != nil {
		return nil, err
	}

	c := &ConcurrentContainer{
		id:     o.id,
		props:  props.clone(),
		logger: o.logger,
	}
	for i := 0; i < concurrency; i++ {
		child := o
		child.id = fmt.Sprintf("%s-%d", o.id, i)
		c.children = append(c.children, newSingle(client, props.clone(), child))
	}
	return c, nil
}

func (c *ConcurrentContainer) ID() string { return c.id }

// Properties returns a copy of the container's properties.
func (c *ConcurrentContainer) Properties() Properties { return c.props.clone() }

// Concurrency returns the number of children.
func (c *ConcurrentContainer) Concurrency() int { return len(c.children) }

// Containers returns the children in creation order.
func (c *ConcurrentContainer) Containers() []*SingleContainer {
	return append([]*SingleContainer(nil), c.children...)
}

// State reports RUNNING only when every child is running. Otherwise it
// reports the state of the first child that is not.
func (c *ConcurrentContainer) State() State {
	for _, child := range c.children {
		if s := child.State(); s != StateRunning {
			return s
		}
	}
	return StateRunning
}

func (c *ConcurrentContainer) IsRunning() bool { return c.State() == StateRunning }

// Start starts every child concurrently. If any child fails, the children
// that did start are stopped again and the first error is returned.
func (c *ConcurrentContainer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var g errgroup.Group
	for _, child := range c.children {
		g.Go(func() error { return child.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		if serr := c.stopAll(context.WithoutCancel(ctx)); serr != nil {
			c.logger.Warn("rollback after failed start", "container_id", c.id, "error", serr)
		}
		return err
	}
	c.logger.Info("concurrent container started", "container_id", c.id, "concurrency", len(c.children))
	return nil
}

// Stop stops every child concurrently and returns their combined errors.
func (c *ConcurrentContainer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopAll(ctx)
}

func (c *ConcurrentContainer) stopAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, child := range c.children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := child.Stop(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}
