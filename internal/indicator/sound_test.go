package indicator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/stretchr/testify/require"

	"github.com/rbright/parlance/internal/config"
)

func TestCueSamplesPresent(t *testing.T) {
	for _, cue := range []Cue{CueStart, CueStop, CueComplete, CueCancel, CueNoMatch, CueSwitch} {
		require.NotEmpty(t, cueSamples(cue), cue.String())
		require.NotEqual(t, "unknown", cue.String())
	}
	require.Empty(t, cueSamples(Cue(99)))
	require.Equal(t, "unknown", Cue(99).String())
}

func TestCueRenderingsAreDistinct(t *testing.T) {
	seen := map[string]Cue{}
	for cue := range cueVoices {
		key := fmt.Sprint(cueSamples(cue))
		other, dup := seen[key]
		require.False(t, dup, "%s renders like %s", cue, other)
		seen[key] = cue
	}
}

func TestSynthesizeCueSeparatesTonesWithSilence(t *testing.T) {
	tone := toneSpec{frequencyHz: 440, duration: 20 * time.Millisecond, volume: 0.2}
	pcm := synthesizeCue([]toneSpec{tone, tone}, 10*time.Millisecond)

	single := samplesForDuration(20 * time.Millisecond)
	gap := samplesForDuration(10 * time.Millisecond)
	require.Len(t, pcm, 2*single+gap)
	require.Equal(t, make([]int16, gap), pcm[single:single+gap])
	require.Empty(t, synthesizeCue(nil, time.Millisecond))
}

func TestPCMReaderEndsWithFinalChunk(t *testing.T) {
	read := pcmReader([]int16{1, 2, 3, 4, 5})
	buf := make([]int16, 3)

	n, err := read(buf)
	require.NoError(t, err)
	require.Equal(t, []int16{1, 2, 3}, buf[:n])

	n, err = read(buf)
	require.ErrorIs(t, err, pulse.EndOfData)
	require.Equal(t, []int16{4, 5}, buf[:n])
}

func TestCuePathExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.IndicatorConfig{
		SoundStartFile:  "~/cues/start.wav",
		SoundStopFile:   "/tmp/stop.wav",
		SoundCancelFile: "  ",
	}
	require.Equal(t, home+"/cues/start.wav", cuePath(CueStart, cfg))
	require.Equal(t, "/tmp/stop.wav", cuePath(CueStop, cfg))
	require.Empty(t, cuePath(CueCancel, cfg))
	require.Empty(t, cuePath(CueComplete, cfg))
	require.Empty(t, cuePath(CueNoMatch, cfg))
	require.Equal(t, home, expandUserPath("~"))
}

func TestSynthesizeToneDuration(t *testing.T) {
	got := synthesizeTone(toneSpec{frequencyHz: 440, duration: 100 * time.Millisecond, volume: 0.2})
	want := samplesForDuration(100 * time.Millisecond)
	require.Len(t, got, want)
}

func TestSynthesizeToneInvalidSpecReturnsEmpty(t *testing.T) {
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 0, duration: 100 * time.Millisecond, volume: 0.2}))
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 440, duration: 0, volume: 0.2}))
	require.Empty(t, synthesizeTone(toneSpec{frequencyHz: 440, duration: 100 * time.Millisecond, volume: 0}))
}

func TestSamplesForDuration(t *testing.T) {
	require.Equal(t, 0, samplesForDuration(0))
	require.Greater(t, samplesForDuration(25*time.Millisecond), 0)
}

func TestEmitCueRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := emitCue(ctx, CueStart, config.IndicatorConfig{})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}
