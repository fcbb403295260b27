// Package lifecycle reinitializes page components after the navigation
// engine swaps content in, and tracks each component's readiness.
package lifecycle

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Component states.
const (
	StateIdle         = "idle"
	StateInitializing = "initializing"
	StateReady        = "ready"
	StateError        = "error"
)

const (
	eventStart   = "start"
	eventSucceed = "succeed"
	eventFail    = "fail"
)

// ErrAlreadyInitializing is returned when a component is asked to start
// while a previous initialization is still running.
var ErrAlreadyInitializing = errors.New("lifecycle: component is already initializing")

// component wraps the state machine of one reinitializable component.
type component struct {
	name    string
	machine *fsm.FSM
}

func newComponent(name string, onEnter func(name, from, to string)) *component {
	c := &component{name: name}
	c.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle, StateReady, StateError}, Dst: StateInitializing},
			{Name: eventSucceed, Src: []string{StateInitializing}, Dst: StateReady},
			{Name: eventFail, Src: []string{StateInitializing}, Dst: StateError},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onEnter != nil {
					onEnter(name, e.Src, e.Dst)
				}
			},
		},
	)
	return c
}

// start moves the component to initializing. It fails with
// ErrAlreadyInitializing when an initialization is in flight.
func (c *component) start(ctx context.Context) error {
	if err := c.machine.Event(ctx, eventStart); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return ErrAlreadyInitializing
		}
		return err
	}
	return nil
}

// finish records the outcome of the initialization.
func (c *component) finish(ctx context.Context, initErr error) error {
	if initErr != nil {
		return c.machine.Event(ctx, eventFail)
	}
	return c.machine.Event(ctx, eventSucceed)
}

func (c *component) current() string {
	return c.machine.Current()
}
