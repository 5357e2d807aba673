package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventInitialize)
	require.NoError(t, err)
	require.Equal(t, StateInitializing, next)

	next, err = Transition(next, EventReady)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)

	next, err = Transition(next, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateListening, next)

	next, err = Transition(next, EventResult)
	require.NoError(t, err)
	require.Equal(t, StateProcessing, next)

	next, err = Transition(next, EventProcessed)
	require.NoError(t, err)
	require.Equal(t, StateListening, next)

	next, err = Transition(next, EventStop)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionFailFromAnyStateGoesError(t *testing.T) {
	states := []State{StateIdle, StateInitializing, StateListening, StateProcessing, StateError}
	for _, state := range states {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateError, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle stop invalid", state: StateIdle, event: EventStop, want: StateIdle, wantErr: true},
		{name: "idle cancel invalid", state: StateIdle, event: EventCancel, want: StateIdle, wantErr: true},
		{name: "idle reset invalid", state: StateIdle, event: EventReset, want: StateIdle, wantErr: true},
		{name: "initializing start invalid", state: StateInitializing, event: EventStart, want: StateInitializing, wantErr: true},
		{name: "listening start invalid", state: StateListening, event: EventStart, want: StateListening, wantErr: true},
		{name: "listening processed invalid", state: StateListening, event: EventProcessed, want: StateListening, wantErr: true},
		{name: "processing result invalid", state: StateProcessing, event: EventResult, want: StateProcessing, wantErr: true},
		{name: "processing cancel valid", state: StateProcessing, event: EventCancel, want: StateIdle, wantErr: false},
		{name: "listening cancel valid", state: StateListening, event: EventCancel, want: StateIdle, wantErr: false},
		{name: "error start invalid", state: StateError, event: EventStart, want: StateError, wantErr: true},
		{name: "error initialize invalid", state: StateError, event: EventInitialize, want: StateError, wantErr: true},
		{name: "error reset valid", state: StateError, event: EventReset, want: StateIdle, wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestActive(t *testing.T) {
	require.True(t, Active(StateListening))
	require.True(t, Active(StateProcessing))
	require.False(t, Active(StateIdle))
	require.False(t, Active(StateError))
	require.False(t, Active(StateInitializing))
}
