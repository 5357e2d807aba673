// Package indicator mirrors recognition events as desktop notifications and
// audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/events"
)

const (
	listeningTimeout = 5 * time.Minute
	dispatchTimeout  = 400 * time.Millisecond
	cueQueueSize     = 16
)

// Notifier shows and dismisses one replaceable notification.
type Notifier interface {
	Notify(ctx context.Context, replaceID uint32, summary string, timeout time.Duration) (uint32, error)
	Dismiss(ctx context.Context, id uint32) error
}

// Player emits an audio cue.
type Player interface {
	Play(ctx context.Context, cue Cue) error
}

// Options configures an Indicator. Nil Notifier and Player select the
// freedesktop and PulseAudio implementations.
type Options struct {
	Config   config.IndicatorConfig
	Logger   *slog.Logger
	Notifier Notifier
	Player   Player
}

// Indicator is an event channel consumer. Failures are logged at debug level
// and never reach the coordinator.
type Indicator struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	notifier Notifier
	player   Player
	messages messages

	mu             sync.Mutex
	notificationID uint32

	cueMu     sync.Mutex
	cues      chan Cue
	cuesShut  bool
	cueWorker chan struct{}
}

// New builds an indicator from opts.
func New(opts Options) *Indicator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	appName := strings.TrimSpace(opts.Config.DesktopAppName)
	if appName == "" {
		appName = "parlance"
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = desktopNotifier{appName: appName}
	}
	player := opts.Player
	if player == nil {
		player = cuePlayer{cfg: opts.Config}
	}
	i := &Indicator{
		cfg:       opts.Config,
		logger:    logger,
		notifier:  notifier,
		player:    player,
		messages:  indicatorMessagesFromEnv(),
		cues:      make(chan Cue, cueQueueSize),
		cueWorker: make(chan struct{}),
	}
	go i.playCues()
	return i
}

// Run consumes sub until it closes or ctx ends, then waits for pending cues.
func (i *Indicator) Run(ctx context.Context, sub *events.Subscription) error {
	defer i.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			i.Handle(ctx, ev)
		}
	}
}

// Handle reflects one event.
func (i *Indicator) Handle(ctx context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.ListeningStarted:
		i.playCue(CueStart)
		i.show(ctx, fmt.Sprintf(i.messages.listening, e.Engine), listeningTimeout)
	case events.PartialResult:
		if strings.TrimSpace(e.Text) != "" {
			i.show(ctx, e.Text+"…", listeningTimeout)
		}
	case events.ListeningStopped:
		if e.Cancelled {
			i.playCue(CueCancel)
		} else {
			i.playCue(CueStop)
		}
		i.hide(ctx)
	case events.FinalResult:
		if !e.Match.Accepted() {
			i.playCue(CueNoMatch)
			i.show(ctx, fmt.Sprintf(i.messages.noMatch, e.Text), i.errorTimeout())
			return
		}
		i.playCue(CueComplete)
		i.show(ctx, fmt.Sprintf(i.messages.matched, e.Match.CommandID), i.errorTimeout())
	case events.EngineSwitch:
		i.playCue(CueSwitch)
		i.show(ctx, fmt.Sprintf(i.messages.switched, e.To), i.errorTimeout())
	case events.Error:
		text := strings.TrimSpace(e.Message)
		if text == "" {
			text = i.messages.errorText
		}
		i.show(ctx, text, i.errorTimeout())
	}
}

// Wait stops accepting cues and blocks until the queued ones have played.
func (i *Indicator) Wait() {
	i.cueMu.Lock()
	if !i.cuesShut {
		i.cuesShut = true
		close(i.cues)
	}
	i.cueMu.Unlock()
	<-i.cueWorker
}

func (i *Indicator) errorTimeout() time.Duration {
	timeout := i.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	return time.Duration(timeout) * time.Millisecond
}

// show replaces the current notification with text.
func (i *Indicator) show(ctx context.Context, text string, timeout time.Duration) {
	if !i.cfg.Enable {
		return
	}
	i.run(ctx, func(ctx context.Context) error {
		i.mu.Lock()
		replaceID := i.notificationID
		i.mu.Unlock()

		id, err := i.notifier.Notify(ctx, replaceID, text, timeout)
		if err != nil {
			return err
		}

		i.mu.Lock()
		i.notificationID = id
		i.mu.Unlock()
		return nil
	})
}

// hide closes the current notification when one is shown.
func (i *Indicator) hide(ctx context.Context) {
	if !i.cfg.Enable {
		return
	}
	i.mu.Lock()
	id := i.notificationID
	i.notificationID = 0
	i.mu.Unlock()
	if id == 0 {
		return
	}
	i.run(ctx, func(ctx context.Context) error {
		return i.notifier.Dismiss(ctx, id)
	})
}

// run executes an indicator operation with a bounded timeout.
func (i *Indicator) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		i.log("indicator dispatch failed", err)
	}
}

// playCue queues cue behind earlier ones without blocking the event loop.
func (i *Indicator) playCue(cue Cue) {
	if !i.cfg.SoundEnable {
		return
	}
	i.cueMu.Lock()
	defer i.cueMu.Unlock()
	if i.cuesShut {
		return
	}
	select {
	case i.cues <- cue:
	default:
		i.logger.Debug("indicator audio cue dropped", "cue", cue.String())
	}
}

// playCues plays queued cues one at a time in event order.
func (i *Indicator) playCues() {
	defer close(i.cueWorker)
	for cue := range i.cues {
		if err := i.player.Play(context.Background(), cue); err != nil {
			i.log("indicator audio cue failed", err)
		}
	}
}

func (i *Indicator) log(message string, err error) {
	if err == nil {
		return
	}
	i.logger.Debug(message, "error", err.Error())
}
