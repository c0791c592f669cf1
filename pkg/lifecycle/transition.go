// Package lifecycle drives one test execution through
// IDLE → READY → RUNNING → DONE → READY. The transition table is a pure
// function returning effects as data; Instance executes them.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/perception/pkg/timing"
)

// ErrInvalidTransition is returned for events a state does not accept.
var ErrInvalidTransition = errors.New("invalid transition")

// State is a lifecycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StateReady   State = "READY"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
)

// Event is a user-facing trigger.
type Event string

const (
	EventToggle Event = "toggle"
	EventReset  Event = "reset"
)

// Effect is a side effect requested by a transition, executed in order.
type Effect string

const (
	// EffectAllocateRun creates a fresh run scaffold for the test.
	EffectAllocateRun Effect = "allocate_run"
	// EffectStampStart sets start_time if unset.
	EffectStampStart Effect = "stamp_start"
	// EffectEmbed loads the test content into the frame.
	EffectEmbed Effect = "embed"
	// EffectOpenChannel opens the content channel.
	EffectOpenChannel Effect = "open_channel"
	// EffectStampStop sets stop_time if unset.
	EffectStampStop Effect = "stamp_stop"
	// EffectTeardown removes the content from the frame.
	EffectTeardown Effect = "teardown"
	// EffectSendStop sends the stop instruction to the content.
	EffectSendStop Effect = "send_stop"
	// EffectPersist writes the run to the store.
	EffectPersist Effect = "persist"
	// EffectCloseChannel closes the content channel.
	EffectCloseChannel Effect = "close_channel"
	// EffectDiscard drops the current run scaffold.
	EffectDiscard Effect = "discard"
)

var rearm = []Effect{EffectCloseChannel, EffectTeardown, EffectDiscard, EffectAllocateRun}

// Transition returns the next state and the effects that move the
// instance there. It has no side effects.
func Transition(state State, event Event, mode timing.Mode) (State, []Effect, error) {
	switch event {
	case EventReset:
		switch state {
		case StateIdle:
			return StateIdle, nil, nil
		case StateReady, StateRunning, StateDone:
			return StateReady, clone(rearm), nil
		}
	case EventToggle:
		switch state {
		case StateIdle:
			return StateReady, []Effect{EffectAllocateRun}, nil
		case StateReady:
			if mode == timing.ModeContent {
				return StateRunning, []Effect{EffectStampStart, EffectOpenChannel, EffectEmbed}, nil
			}

			return StateRunning, []Effect{EffectStampStart, EffectEmbed}, nil
		case StateRunning:
			if mode == timing.ModeContent {
				return StateDone, []Effect{EffectStampStop, EffectSendStop, EffectPersist}, nil
			}

			return StateDone, []Effect{EffectStampStop, EffectTeardown, EffectPersist}, nil
		case StateDone:
			return StateReady, clone(rearm), nil
		}
	}

	return state, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
}

func clone(effects []Effect) []Effect {
	out := make([]Effect, len(effects))
	copy(out, effects)

	return out
}
