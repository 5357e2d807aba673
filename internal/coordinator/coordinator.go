// Package coordinator owns the active recognition engine. It runs the
// initialization and fallback protocols, serializes engine switches, and
// routes engine output through the matcher onto the event bus.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/events"
	"github.com/rbright/parlance/internal/fsm"
	"github.com/rbright/parlance/internal/health"
	"github.com/rbright/parlance/internal/history"
	"github.com/rbright/parlance/internal/matcher"
	"github.com/rbright/parlance/internal/vocabulary"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotInitialized     = errors.New("coordinator not initialized")
	ErrAlreadyInitialized = errors.New("coordinator already initialized")
	ErrNeedsReinitialize  = errors.New("coordinator is in error state; reinitialize required")
	ErrAllEnginesFailed   = errors.New("all engines failed to initialize")
	ErrUnknownEngine      = errors.New("unknown engine")
	ErrAlreadyActive      = errors.New("engine already active")
	ErrSwitchFailed       = errors.New("engine switch failed")
	ErrClosed             = errors.New("coordinator closed")
)

const (
	DefaultMinConfidence = 0.5
	DefaultInitTimeout   = 10 * time.Second
)

// CacheIndexer receives the phrase index after each vocabulary propagation.
// Entries are upserted, never deleted.
type CacheIndexer interface {
	StoreCache(ctx context.Context, entries map[string]matcher.Hit) error
}

// Options configures a Coordinator. Engines lists every known engine in
// default fallback rotation order.
type Options struct {
	Logger  *slog.Logger
	Engines []engine.Adapter
	// Preferred defaults to the first engine.
	Preferred engine.ID
	// FallbackOrder overrides the rotation for the listed engines.
	FallbackOrder map[engine.ID][]engine.ID
	AutoFallback  bool
	MinConfidence float64
	InitTimeout   time.Duration
	EngineConfig  engine.Config

	Matcher *matcher.Matcher
	Cache   CacheIndexer
	Health  *health.Monitor
	History *history.Buffer
	Bus     *events.Bus

	VocabularyDebounce time.Duration
	MaxPhrases         int

	Tracer trace.Tracer
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	logger        *slog.Logger
	tracer        trace.Tracer
	engines       map[engine.ID]engine.Adapter
	order         []engine.ID
	fallback      map[engine.ID][]engine.ID
	preferred     engine.ID
	autoFallback  bool
	minConfidence float64
	initTimeout   time.Duration
	engineConfig  engine.Config

	matcher *matcher.Matcher
	cache   CacheIndexer
	health  *health.Monitor
	history *history.Buffer
	bus     *events.Bus
	vocab   *vocabulary.Manager

	// switchMu serializes every operation that drives an adapter's lifecycle:
	// initialize, switch, start/stop, and vocabulary propagation.
	switchMu sync.Mutex

	mu        sync.RWMutex
	state     fsm.State
	active    engine.Adapter
	ready     map[engine.ID]bool
	switching bool
	session   string
	closed    bool

	rewire chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates opts and starts the engine message loop.
func New(opts Options) (*Coordinator, error) {
	if len(opts.Engines) == 0 {
		return nil, errors.New("coordinator requires at least one engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engines := make(map[engine.ID]engine.Adapter, len(opts.Engines))
	order := make([]engine.ID, 0, len(opts.Engines))
	for _, a := range opts.Engines {
		id := a.ID()
		if _, dup := engines[id]; dup {
			return nil, fmt.Errorf("duplicate engine %q", id)
		}
		engines[id] = a
		order = append(order, id)
	}

	preferred := opts.Preferred
	if preferred == "" {
		preferred = order[0]
	}
	if _, ok := engines[preferred]; !ok {
		return nil, fmt.Errorf("%w: preferred %q", ErrUnknownEngine, preferred)
	}

	fallback, err := buildFallback(order, opts.FallbackOrder)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		logger:        logger,
		tracer:        opts.Tracer,
		engines:       engines,
		order:         order,
		fallback:      fallback,
		preferred:     preferred,
		autoFallback:  opts.AutoFallback,
		minConfidence: opts.MinConfidence,
		initTimeout:   opts.InitTimeout,
		engineConfig:  opts.EngineConfig,
		matcher:       opts.Matcher,
		cache:         opts.Cache,
		health:        opts.Health,
		history:       opts.History,
		bus:           opts.Bus,
		state:         fsm.StateIdle,
		ready:         map[engine.ID]bool{},
		rewire:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/rbright/parlance/internal/coordinator")
	}
	if c.minConfidence <= 0 {
		c.minConfidence = DefaultMinConfidence
	}
	if c.initTimeout <= 0 {
		c.initTimeout = DefaultInitTimeout
	}
	if c.matcher == nil {
		c.matcher = matcher.New(matcher.Options{Logger: logger})
	}
	if c.health == nil {
		c.health = health.NewMonitor(order, health.WithLogger(logger))
	}
	if c.history == nil {
		c.history = history.New(history.DefaultCapacity)
	}
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	c.vocab = vocabulary.NewManager(vocabulary.Options{
		Logger:     logger,
		Debounce:   opts.VocabularyDebounce,
		MaxPhrases: opts.MaxPhrases,
		Apply:      c.applyVocabulary,
		OnChange: func(size int) {
			c.bus.Publish(events.VocabularyUpdated{Size: size, At: time.Now()})
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return c, nil
}

// buildFallback gives engine i the rotation order[i+1:] + order[:i] unless
// overrides name it.
func buildFallback(order []engine.ID, overrides map[engine.ID][]engine.ID) (map[engine.ID][]engine.ID, error) {
	known := make(map[engine.ID]bool, len(order))
	for _, id := range order {
		known[id] = true
	}
	out := make(map[engine.ID][]engine.ID, len(order))
	for i, id := range order {
		rotation := make([]engine.ID, 0, len(order)-1)
		rotation = append(rotation, order[i+1:]...)
		rotation = append(rotation, order[:i]...)
		out[id] = rotation
	}
	for id, chain := range overrides {
		if !known[id] {
			return nil, fmt.Errorf("%w: fallback override for %q", ErrUnknownEngine, id)
		}
		for _, target := range chain {
			if !known[target] {
				return nil, fmt.Errorf("%w: %q in fallback order of %q", ErrUnknownEngine, target, id)
			}
			if target == id {
				return nil, fmt.Errorf("fallback order of %q names itself", id)
			}
		}
		out[id] = append([]engine.ID(nil), chain...)
	}
	return out, nil
}

// State returns the current recognition state.
func (c *Coordinator) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActiveEngine returns the active engine id, or false when none is active.
func (c *Coordinator) ActiveEngine() (engine.ID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return "", false
	}
	return c.active.ID(), true
}

// Session returns the open listening session id, if any.
func (c *Coordinator) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Engines returns every known engine id in rotation order.
func (c *Coordinator) Engines() []engine.ID {
	return append([]engine.ID(nil), c.order...)
}

// FallbackOrder returns the fallback chain for id.
func (c *Coordinator) FallbackOrder(id engine.ID) []engine.ID {
	return append([]engine.ID(nil), c.fallback[id]...)
}

// EngineStatus returns health metrics for one engine.
func (c *Coordinator) EngineStatus(id engine.ID) (health.Metrics, error) {
	m, ok := c.health.Status(id)
	if !ok {
		return health.Metrics{}, fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}
	return m, nil
}

// AllEngineStatuses returns health metrics for every engine.
func (c *Coordinator) AllEngineStatuses() map[engine.ID]health.Metrics {
	return c.health.All()
}

// Health exposes the monitor for supervisory logic.
func (c *Coordinator) Health() *health.Monitor { return c.health }

// History returns the newest limit records, oldest first.
func (c *Coordinator) History(limit int) []history.Record {
	return c.history.Recent(limit)
}

// Subscribe opens a new event stream consumer.
func (c *Coordinator) Subscribe() *events.Subscription { return c.bus.Subscribe() }

// Unsubscribe closes a consumer opened by Subscribe.
func (c *Coordinator) Unsubscribe(s *events.Subscription) { c.bus.Unsubscribe(s) }

// Close stops the message loop, releases every engine, and closes the bus.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.vocab.Close()
	c.cancel()
	<-c.done

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	active := c.active
	listening := fsm.Active(c.state)
	c.active = nil
	c.session = ""
	c.state = fsm.StateIdle
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.initTimeout)
	defer cancel()

	var errs []error
	if active != nil && listening {
		if err := active.StopListening(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", active.ID(), err))
		}
	}
	for _, id := range c.order {
		if err := c.engines[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		c.health.MarkStopped(id)
	}
	c.bus.Close()
	return errors.Join(errs...)
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// transitionLocked applies one fsm event. Callers hold c.mu.
func (c *Coordinator) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	if next != c.state {
		c.logger.Debug("state transition", "from", c.state, "to", next, "event", event)
	}
	c.state = next
	return nil
}

func (c *Coordinator) signalRewire() {
	select {
	case c.rewire <- struct{}{}:
	default:
	}
}

func (c *Coordinator) publishError(id engine.ID, err error) {
	c.bus.Publish(events.Error{
		Engine:      id,
		Message:     err.Error(),
		Recoverable: engine.IsRecoverable(err),
		At:          time.Now(),
	})
}
