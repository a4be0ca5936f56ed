package linkset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/metrics"
)

// State of a linkset.
type State string

const (
	StateCreated    State = "created"
	StateConfigured State = "configured"
	StateActive     State = "active"
	StateInactive   State = "inactive"
	StateDestroyed  State = "destroyed"
)

var allStates = []string{
	string(StateCreated), string(StateConfigured), string(StateActive),
	string(StateInactive), string(StateDestroyed),
}

const (
	evConfigure  = "configure"
	evActivate   = "activate"
	evDeactivate = "deactivate"
	evDestroy    = "destroy"
)

// lifecycle drives Created -> Configured -> Active <-> Inactive -> Destroyed.
type lifecycle struct {
	name string
	sm   *fsm.FSM
}

func newLifecycle(name string) *lifecycle {
	l := &lifecycle{name: name}
	l.sm = fsm.NewFSM(
		string(StateCreated),
		fsm.Events{
			{Name: evConfigure, Src: []string{string(StateCreated)}, Dst: string(StateConfigured)},
			{Name: evActivate, Src: []string{string(StateConfigured), string(StateInactive)}, Dst: string(StateActive)},
			{Name: evDeactivate, Src: []string{string(StateActive)}, Dst: string(StateInactive)},
			{Name: evDestroy, Src: []string{
				string(StateCreated), string(StateConfigured), string(StateActive), string(StateInactive),
			}, Dst: string(StateDestroyed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Info("linkset state changed", "linkset", name, "from", e.Src, "to", e.Dst)
				metrics.SetLinksetState(name, e.Dst, allStates)
			},
		},
	)
	metrics.SetLinksetState(name, string(StateCreated), allStates)
	return l
}

func (l *lifecycle) Name() string { return l.name }

// State returns the current state.
func (l *lifecycle) State() State { return State(l.sm.Current()) }

var eventTarget = map[string]State{
	evConfigure:  StateConfigured,
	evActivate:   StateActive,
	evDeactivate: StateInactive,
	evDestroy:    StateDestroyed,
}

// transition fires event. Being in the target state already is not an error.
func (l *lifecycle) transition(event string) error {
	if l.State() == eventTarget[event] {
		return nil
	}
	err := l.sm.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	if l.State() == StateDestroyed {
		return core.ErrClosed
	}
	return fmt.Errorf("linkset %s: %s not allowed in state %s: %w", l.name, event, l.State(), err)
}

func (l *lifecycle) is(s State) bool { return l.sm.Is(string(s)) }
