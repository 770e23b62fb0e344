package container

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/miladsoleymani/listenmux/core"
)

// State is a container lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var validTransitions = map[State][]State{
	StateCreated:  {StateStarting},
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
	StateStopped:  {StateStarting},
}

func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// lifecycle holds a container's state. mu serializes Start and Stop; the
// state itself can be read without it.
type lifecycle struct {
	mu    sync.Mutex
	state atomic.Int32

	id      string
	logger  core.Logger
	metrics MetricsCollector
}

func newLifecycle(id string, logger core.Logger, metrics MetricsCollector) *lifecycle {
	return &lifecycle{id: id, logger: logger, metrics: metrics}
}

func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// transition moves to the given state. Callers hold mu.
func (l *lifecycle) transition(to State) error {
	from := l.State()
	if !isValidTransition(from, to) {
		return fmt.Errorf("listenmux: container %s: invalid state transition %s -> %s", l.id, from, to)
	}
	l.state.Store(int32(to))
	l.logger.Debug("container state transition", "container_id", l.id, "from", from.String(), "to", to.String())
	l.metrics.StateChanged(l.id, to)
	return nil
}
