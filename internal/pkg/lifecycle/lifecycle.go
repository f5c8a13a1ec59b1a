// Package lifecycle tracks the initialization state of the process.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/bissquit/signal-relay/internal/pkg/metrics"
)

// Phase is a step of the process lifecycle.
type Phase string

// Lifecycle phases.
const (
	NotInitialized Phase = "not_initialized"
	Initializing   Phase = "initializing"
	Ready          Phase = "ready"
	Stopping       Phase = "stopping"
)

var allPhases = []Phase{NotInitialized, Initializing, Ready, Stopping}

// allowed lists legal transitions. Stopping is terminal.
var allowed = map[Phase][]Phase{
	NotInitialized: {Initializing, Stopping},
	Initializing:   {Ready, Stopping},
	Ready:          {Stopping},
}

// State is the process-wide lifecycle owned by the App and passed to consumers.
type State struct {
	mu    sync.RWMutex
	phase Phase
}

// New returns a State in NotInitialized.
func New() *State {
	s := &State{phase: NotInitialized}
	s.publish()
	return s
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// IsReady reports whether the process accepts traffic.
func (s *State) IsReady() bool {
	return s.Phase() == Ready
}

// Transition moves to the next phase, rejecting illegal transitions.
func (s *State) Transition(next Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range allowed[s.phase] {
		if p == next {
			s.phase = next
			s.publish()
			return nil
		}
	}
	return fmt.Errorf("illegal lifecycle transition %s -> %s", s.phase, next)
}

func (s *State) publish() {
	for _, p := range allPhases {
		v := 0.0
		if p == s.phase {
			v = 1
		}
		metrics.LifecycleState.WithLabelValues(string(p)).Set(v)
	}
}
