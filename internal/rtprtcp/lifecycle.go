package rtprtcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a node. Transitions are monotonic:
// Created -> Ready -> Started -> Stopped, with Stopped reachable from any state.
type State int

const (
	StateCreated State = iota
	StateReady
	StateStarted
	StateStopped
)

const (
	stateCreated = "created"
	stateReady   = "ready"
	stateStarted = "started"
	stateStopped = "stopped"

	eventPrepare = "prepare"
	eventStart   = "start"
	eventStop    = "stop"
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return stateCreated
	case StateReady:
		return stateReady
	case StateStarted:
		return stateStarted
	case StateStopped:
		return stateStopped
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func parseState(name string) State {
	switch name {
	case stateReady:
		return StateReady
	case stateStarted:
		return StateStarted
	case stateStopped:
		return StateStopped
	default:
		return StateCreated
	}
}

// lifecycle wraps the state machine. It is not safe for concurrent use on its
// own; the node guards it with its registration lock.
type lifecycle struct {
	machine *fsm.FSM
}

func newLifecycle(onTransition func(from, to State)) *lifecycle {
	l := &lifecycle{}
	l.machine = fsm.NewFSM(
		stateCreated,
		fsm.Events{
			{Name: eventPrepare, Src: []string{stateCreated}, Dst: stateReady},
			{Name: eventStart, Src: []string{stateReady}, Dst: stateStarted},
			{Name: eventStop, Src: []string{stateCreated, stateReady, stateStarted}, Dst: stateStopped},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if onTransition != nil {
					onTransition(parseState(e.Src), parseState(e.Dst))
				}
			},
		},
	)
	return l
}

func (l *lifecycle) current() State {
	return parseState(l.machine.Current())
}

func (l *lifecycle) fire(event string) error {
	err := l.machine.Event(context.Background(), event)
	if err == nil {
		return nil
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, l.current())
	}
	return fmt.Errorf("%s: %w", event, err)
}
