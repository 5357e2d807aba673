package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassificationUnwraps(t *testing.T) {
	cause := errors.New("socket reset")

	recoverable := NewRecoverable("network blip", cause)
	require.True(t, IsRecoverable(recoverable))
	require.ErrorIs(t, recoverable, ErrRecoverable)
	require.ErrorIs(t, recoverable, cause)
	require.NotErrorIs(t, recoverable, ErrFatal)
	require.Equal(t, "network blip: socket reset", recoverable.Error())

	fatal := NewFatal("permission denied", nil)
	require.False(t, IsRecoverable(fatal))
	require.ErrorIs(t, fatal, ErrFatal)
	require.Equal(t, "permission denied", fatal.Error())
}

func TestClassify(t *testing.T) {
	require.Nil(t, Classify("init", nil))

	existing := NewFatal("microphone denied", nil)
	require.Same(t, existing, Classify("init", fmt.Errorf("wrapped: %w", existing)))

	timeout := Classify("init", context.DeadlineExceeded)
	require.True(t, timeout.Recoverable)
	require.ErrorIs(t, timeout, context.DeadlineExceeded)

	cancelled := Classify("init", context.Canceled)
	require.False(t, cancelled.Recoverable)

	plain := Classify("init", errors.New("busy"))
	require.True(t, plain.Recoverable)
	require.Equal(t, "init: busy", plain.Error())
}

func TestMessageKindString(t *testing.T) {
	require.Equal(t, "partial", MessagePartial.String())
	require.Equal(t, "final", MessageFinal.String())
	require.Equal(t, "error", MessageError.String())
	require.Equal(t, "unknown", MessageKind(0).String())
}
