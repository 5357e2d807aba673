// Package fsm holds the recognition state transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateError        State = "error"
)

const (
	EventInitialize Event = "initialize"
	EventReady      Event = "ready"
	EventStart      Event = "start"
	EventResult     Event = "result"
	EventProcessed  Event = "processed"
	EventStop       Event = "stop"
	EventCancel     Event = "cancel"
	EventFail       Event = "fail"
	EventReset      Event = "reset"
)

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventInitialize:
			return StateInitializing, nil
		case EventStart:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateInitializing:
		switch event {
		case EventReady:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventResult:
			return StateProcessing, nil
		case EventStop, EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventProcessed:
			return StateListening, nil
		case EventStop, EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateError:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether a recognition session is open in state s.
func Active(s State) bool {
	return s == StateListening || s == StateProcessing
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
