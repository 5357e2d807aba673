package indicator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/matcher"
)

type notifyCall struct {
	replaceID uint32
	summary   string
	timeout   time.Duration
	dismiss   bool
}

type recordingNotifier struct {
	mu     sync.Mutex
	nextID uint32
	calls  []notifyCall
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, replaceID uint32, summary string, timeout time.Duration) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{replaceID: replaceID, summary: summary, timeout: timeout})
	if n.err != nil {
		return 0, n.err
	}
	if replaceID != 0 {
		return replaceID, nil
	}
	n.nextID++
	return n.nextID, nil
}

func (n *recordingNotifier) Dismiss(_ context.Context, id uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{replaceID: id, dismiss: true})
	return n.err
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type recordingPlayer struct {
	mu    sync.Mutex
	cues  []Cue
	delay map[Cue]time.Duration
}

func (p *recordingPlayer) Play(_ context.Context, cue Cue) error {
	p.mu.Lock()
	delay := p.delay[cue]
	p.mu.Unlock()
	time.Sleep(delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cues = append(p.cues, cue)
	return nil
}

func (p *recordingPlayer) snapshot() []Cue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Cue(nil), p.cues...)
}

func newTestIndicator(t *testing.T, cfg config.IndicatorConfig, player *recordingPlayer) (*Indicator, *recordingNotifier, *recordingPlayer) {
	t.Helper()
	notifier := &recordingNotifier{}
	if player == nil {
		player = &recordingPlayer{}
	}
	ind := New(Options{Config: cfg, Notifier: notifier, Player: player})
	ind.messages = indicatorMessages(localeEnglish)
	t.Cleanup(ind.Wait)
	return ind, notifier, player
}

func enabledConfig() config.IndicatorConfig {
	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = true
	cfg.ErrorTimeoutMS = 1600
	return cfg
}

func TestIndicatorSessionLifecycle(t *testing.T) {
	ind, notifier, player := newTestIndicator(t, enabledConfig(), nil)
	ctx := context.Background()

	ind.Handle(ctx, events.ListeningStarted{Engine: "textline"})
	ind.Handle(ctx, events.PartialResult{Engine: "textline", Text: "open set"})
	ind.Handle(ctx, events.FinalResult{
		Engine: "textline",
		Text:   "open settings",
		Match:  matcher.Result{CommandID: "open-settings", Tier: matcher.TierExact, Score: 1},
	})
	ind.Handle(ctx, events.ListeningStopped{Engine: "textline"})
	ind.Wait()

	require.Equal(t, []notifyCall{
		{replaceID: 0, summary: "Listening (textline)…", timeout: listeningTimeout},
		{replaceID: 1, summary: "open set…", timeout: listeningTimeout},
		{replaceID: 1, summary: "✓ open-settings", timeout: 1600 * time.Millisecond},
		{replaceID: 1, dismiss: true},
	}, notifier.snapshot())
	require.Equal(t, []Cue{CueStart, CueComplete, CueStop}, player.snapshot())
}

func TestIndicatorCancelledSessionPlaysCancelCue(t *testing.T) {
	ind, notifier, player := newTestIndicator(t, enabledConfig(), nil)
	ctx := context.Background()

	ind.Handle(ctx, events.ListeningStarted{Engine: "openai"})
	ind.Handle(ctx, events.ListeningStopped{Engine: "openai", Cancelled: true})
	ind.Wait()

	calls := notifier.snapshot()
	require.Len(t, calls, 2)
	require.True(t, calls[1].dismiss)
	require.Equal(t, []Cue{CueStart, CueCancel}, player.snapshot())
}

func TestIndicatorCuesKeepEventOrderWhenPlaybackIsSlow(t *testing.T) {
	player := &recordingPlayer{delay: map[Cue]time.Duration{CueStart: 60 * time.Millisecond}}
	ind, _, _ := newTestIndicator(t, enabledConfig(), player)
	ctx := context.Background()

	for range 3 {
		ind.Handle(ctx, events.ListeningStarted{Engine: "textline"})
		ind.Handle(ctx, events.ListeningStopped{Engine: "textline", Cancelled: true})
	}
	ind.Wait()

	require.Equal(t, []Cue{CueStart, CueCancel, CueStart, CueCancel, CueStart, CueCancel}, player.snapshot())
}

func TestIndicatorIgnoresCuesAfterWait(t *testing.T) {
	ind, _, player := newTestIndicator(t, enabledConfig(), nil)
	ind.Wait()

	require.NotPanics(t, func() {
		ind.Handle(context.Background(), events.ListeningStarted{Engine: "textline"})
	})
	require.Empty(t, player.snapshot())
}

func TestIndicatorRejectedFinalShowsNoMatch(t *testing.T) {
	ind, notifier, player := newTestIndicator(t, enabledConfig(), nil)

	ind.Handle(context.Background(), events.FinalResult{Engine: "textline", Text: "make coffee"})
	ind.Wait()

	require.Equal(t, []notifyCall{
		{summary: `No command for "make coffee"`, timeout: 1600 * time.Millisecond},
	}, notifier.snapshot())
	require.Equal(t, []Cue{CueNoMatch}, player.snapshot())
}

func TestIndicatorErrorAndSwitchUseErrorTimeout(t *testing.T) {
	cfg := enabledConfig()
	cfg.ErrorTimeoutMS = 0
	ind, notifier, player := newTestIndicator(t, cfg, nil)
	ctx := context.Background()

	ind.Handle(ctx, events.Error{Engine: "openai", Message: "  "})
	ind.Handle(ctx, events.EngineSwitch{From: "openai", To: "textline", Reason: events.ReasonRuntimeFallback})
	ind.Handle(ctx, events.Error{Message: "engine unavailable"})

	require.Equal(t, []notifyCall{
		{summary: "Speech recognition error", timeout: 1200 * time.Millisecond},
		{replaceID: 1, summary: "Switched to textline", timeout: 1200 * time.Millisecond},
		{replaceID: 1, summary: "engine unavailable", timeout: 1200 * time.Millisecond},
	}, notifier.snapshot())
	ind.Wait()
	require.Equal(t, []Cue{CueSwitch}, player.snapshot())
}

func TestIndicatorDisabledSkipsNotificationsAndCues(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enable = false
	cfg.SoundEnable = false
	ind, notifier, player := newTestIndicator(t, cfg, nil)
	ctx := context.Background()

	ind.Handle(ctx, events.ListeningStarted{Engine: "textline"})
	ind.Handle(ctx, events.ListeningStopped{Engine: "textline"})
	ind.Wait()

	require.Empty(t, notifier.snapshot())
	require.Empty(t, player.snapshot())
}

func TestIndicatorNotifyFailureKeepsNoNotification(t *testing.T) {
	ind, notifier, _ := newTestIndicator(t, enabledConfig(), nil)
	notifier.err = errors.New("dbus unavailable")
	ctx := context.Background()

	ind.Handle(ctx, events.ListeningStarted{Engine: "textline"})
	ind.Handle(ctx, events.ListeningStopped{Engine: "textline"})
	ind.Wait()

	// Hide has nothing to dismiss after a failed notify.
	require.Len(t, notifier.snapshot(), 1)
}

func TestIndicatorRunConsumesUntilSubscriptionCloses(t *testing.T) {
	cfg := enabledConfig()
	cfg.SoundEnable = false
	ind, notifier, _ := newTestIndicator(t, cfg, nil)

	bus := events.NewBus()
	sub := bus.Subscribe()
	bus.Publish(events.ListeningStarted{Engine: "textline"})
	bus.Publish(events.VocabularyUpdated{Size: 3})
	bus.Publish(events.ListeningStopped{Engine: "textline"})
	bus.Close()

	require.NoError(t, ind.Run(context.Background(), sub))
	require.Len(t, notifier.snapshot(), 2)
}

func TestIndicatorRunStopsOnContextCancel(t *testing.T) {
	ind, _, _ := newTestIndicator(t, enabledConfig(), nil)
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, ind.Run(ctx, sub))
}

func TestDesktopNotifierUsesBusctl(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
if [[ "$*" == *" Notify "* ]]; then
  echo 'u 42'
fi
`)

	notifier := desktopNotifier{appName: "parlance"}
	id, err := notifier.Notify(context.Background(), 7, "Listening", 1500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, uint32(42), id)
	require.NoError(t, notifier.Dismiss(context.Background(), id))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "--user call org.freedesktop.Notifications /org/freedesktop/Notifications org.freedesktop.Notifications Notify susssasa{sv}i parlance 7  Listening  0 0 1500", lines[0])
	require.Equal(t, "--user call org.freedesktop.Notifications /org/freedesktop/Notifications org.freedesktop.Notifications CloseNotification u 42", lines[1])
}

func TestDesktopNotifierRejectsMalformedResponse(t *testing.T) {
	installBusctlStub(t, `
echo 'garbage'
`)

	_, err := desktopNotifier{appName: "parlance"}.Notify(context.Background(), 0, "x", time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid response")
}

func TestDesktopNotifierIncludesCommandOutputOnFailure(t *testing.T) {
	installBusctlStub(t, `
echo 'no session bus' >&2
exit 1
`)

	err := desktopNotifier{appName: "parlance"}.Dismiss(context.Background(), 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no session bus")
}

func installBusctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "busctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}
