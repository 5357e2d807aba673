package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/parlance/internal/config"
)

// Cue names an audio cue tied to a recognition event.
type Cue int

const (
	// CueStart marks ListeningStarted.
	CueStart Cue = iota + 1
	// CueStop marks a session that ended normally.
	CueStop
	// CueComplete marks a final result that resolved to a command.
	CueComplete
	// CueCancel marks a cancelled session.
	CueCancel
	// CueNoMatch marks a final result no command accepted.
	CueNoMatch
	// CueSwitch marks a change of active engine.
	CueSwitch
)

var cueNames = map[Cue]string{
	CueStart:    "start",
	CueStop:     "stop",
	CueComplete: "complete",
	CueCancel:   "cancel",
	CueNoMatch:  "no-match",
	CueSwitch:   "switch",
}

func (c Cue) String() string {
	if name, ok := cueNames[c]; ok {
		return name
	}
	return "unknown"
}

const (
	cueSampleRate = 16000
	cueVolume     = 0.16
	cueFileLimit  = 4 * time.Second
)

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

// cueVoice renders one cue: an optional user file and the synthesized
// fallback played when the file is unset or fails.
type cueVoice struct {
	file  func(config.IndicatorConfig) string
	gap   time.Duration
	tones []toneSpec
}

func note(hz float64, ms int) toneSpec {
	return toneSpec{frequencyHz: hz, duration: time.Duration(ms) * time.Millisecond, volume: cueVolume}
}

// Session cues climb on open and fall on close. Result cues resolve upward
// on a match and repeat a flat low note when nothing matched.
var cueVoices = map[Cue]cueVoice{
	CueStart: {
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundStartFile },
		gap:   15 * time.Millisecond,
		tones: []toneSpec{note(660, 55), note(990, 80)},
	},
	CueStop: {
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundStopFile },
		gap:   15 * time.Millisecond,
		tones: []toneSpec{note(990, 55), note(660, 80)},
	},
	CueComplete: {
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundCompleteFile },
		gap:   20 * time.Millisecond,
		tones: []toneSpec{note(784, 50), note(988, 50), note(1319, 90)},
	},
	CueCancel: {
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundCancelFile },
		gap:   25 * time.Millisecond,
		tones: []toneSpec{note(520, 70), note(390, 110)},
	},
	CueNoMatch: {
		gap:   45 * time.Millisecond,
		tones: []toneSpec{note(330, 60), note(330, 60)},
	},
	CueSwitch: {
		gap:   10 * time.Millisecond,
		tones: []toneSpec{note(587, 45), note(880, 45), note(587, 45)},
	},
}

var cuePCM = renderCues(cueVoices)

func renderCues(voices map[Cue]cueVoice) map[Cue][]int16 {
	out := make(map[Cue][]int16, len(voices))
	for cue, voice := range voices {
		out[cue] = synthesizeCue(voice.tones, voice.gap)
	}
	return out
}

// cuePlayer plays a configured cue file through pw-play and falls back to a
// synthesized rendering on the PulseAudio server.
type cuePlayer struct {
	cfg config.IndicatorConfig
}

func (p cuePlayer) Play(ctx context.Context, cue Cue) error {
	return emitCue(ctx, cue, p.cfg)
}

func emitCue(ctx context.Context, cue Cue, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path := cuePath(cue, cfg); path != "" {
		if err := playCueFile(ctx, path); err == nil {
			return nil
		}
	}

	samples := cueSamples(cue)
	if len(samples) == 0 {
		return nil
	}
	return pulseSink{media: "parlance " + cue.String() + " cue"}.play(samples)
}

func cuePath(cue Cue, cfg config.IndicatorConfig) string {
	voice, ok := cueVoices[cue]
	if !ok || voice.file == nil {
		return ""
	}
	return expandUserPath(voice.file(cfg))
}

func cueSamples(cue Cue) []int16 {
	return cuePCM[cue]
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
}

func playCueFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cueFileLimit)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

// pulseSink plays one PCM buffer on a short-lived PulseAudio connection.
type pulseSink struct {
	media string
}

func (s pulseSink) play(samples []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("parlance"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	stream, err := client.NewPlayback(
		pulse.Int16Reader(pcmReader(samples)),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName(s.media),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play %s: %w", s.media, err)
	}
	return nil
}

// pcmReader feeds samples to a playback stream and reports EndOfData with
// the final chunk.
func pcmReader(samples []int16) func([]int16) (int, error) {
	rest := samples
	return func(buf []int16) (int, error) {
		n := copy(buf, rest)
		rest = rest[n:]
		if len(rest) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	}
}

func synthesizeCue(tones []toneSpec, gap time.Duration) []int16 {
	if len(tones) == 0 {
		return nil
	}
	silence := samplesForDuration(gap)

	var pcm []int16
	for i, tone := range tones {
		if i > 0 {
			pcm = append(pcm, make([]int16, silence)...)
		}
		pcm = append(pcm, synthesizeTone(tone)...)
	}
	return pcm
}

// synthesizeTone renders a sine with a linear ramp of at most 5ms at both
// ends so notes start and stop without clicks.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}
	ramp := max(min(n/10, cueSampleRate/200), 1)

	pcm := make([]int16, n)
	step := 2 * math.Pi * spec.frequencyHz / cueSampleRate
	for i := range pcm {
		envelope := min(1, float64(i)/float64(ramp), float64(n-1-i)/float64(ramp))
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * spec.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
