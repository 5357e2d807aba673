// Package health tracks per-engine recognition outcomes and ranks engines.
package health

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rbright/parlance/internal/engine"
)

// DefaultFailureThreshold is the consecutive failure count after which an
// engine is reported unhealthy.
const DefaultFailureThreshold = 10

// Metrics is the public view of one engine's health.
type Metrics struct {
	EngineID            engine.ID `json:"engine_id"`
	IsInitialized       bool      `json:"is_initialized"`
	IsAvailable         bool      `json:"is_available"`
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	AverageConfidence   float64   `json:"average_confidence"`
	LastError           string    `json:"last_error,omitempty"`
	LastUpdated         time.Time `json:"last_updated"`
}

// SuccessRatio is successes over all recorded outcomes, or 0 with no data.
func (m Metrics) SuccessRatio() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(total)
}

// Observer is notified after every change while the monitor lock is held, in
// update order. Observers must not call back into the Monitor.
type Observer interface {
	Observe(m Metrics, healthy bool)
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithFailureThreshold overrides DefaultFailureThreshold.
func WithFailureThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = int64(n)
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

type entry struct {
	Metrics
	samples int64
}

// Monitor owns every engine's Metrics.
type Monitor struct {
	logger    *slog.Logger
	threshold int64
	observers []Observer
	now       func() time.Time

	mu      sync.RWMutex
	entries map[engine.ID]*entry
}

// NewMonitor seeds an entry for every known engine.
func NewMonitor(ids []engine.ID, opts ...Option) *Monitor {
	m := &Monitor{
		logger:    slog.New(slog.DiscardHandler),
		threshold: DefaultFailureThreshold,
		now:       time.Now,
		entries:   make(map[engine.ID]*entry, len(ids)),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, id := range ids {
		m.entries[id] = &entry{Metrics: Metrics{EngineID: id, LastUpdated: m.now()}}
	}
	return m
}

// RecordInitialization stores the outcome of an initialization attempt.
func (m *Monitor) RecordInitialization(id engine.ID, err error) {
	m.update(id, func(e *entry) {
		if err == nil {
			e.IsInitialized = true
			e.IsAvailable = true
			e.ConsecutiveFailures = 0
			return
		}
		e.IsInitialized = false
		e.IsAvailable = false
		e.fail(err.Error())
	})
}

// RecordSuccess counts an accepted final result.
func (m *Monitor) RecordSuccess(id engine.ID, confidence float64) {
	m.update(id, func(e *entry) {
		e.SuccessCount++
		e.ConsecutiveFailures = 0
		e.IsAvailable = true
		e.sample(confidence)
	})
}

// RecordRejection counts a final result that fell below the confidence floor.
func (m *Monitor) RecordRejection(id engine.ID, confidence float64) {
	m.update(id, func(e *entry) {
		e.fail("")
		e.sample(confidence)
	})
}

// RecordError counts an engine error. Non-recoverable errors also mark the
// engine unavailable.
func (m *Monitor) RecordError(id engine.ID, err error) {
	m.update(id, func(e *entry) {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		e.fail(msg)
		if err != nil && !engine.IsRecoverable(err) {
			e.IsAvailable = false
		}
	})
}

// MarkStopped records that an engine was released.
func (m *Monitor) MarkStopped(id engine.ID) {
	m.update(id, func(e *entry) {
		e.IsInitialized = false
	})
}

// IsHealthy reports whether id is initialized, available and below the
// consecutive failure threshold. Unknown engines are unhealthy.
func (m *Monitor) IsHealthy(id engine.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	return m.healthyLocked(e)
}

// HealthiestEngine ranks healthy engines first, then by success ratio, then
// by average confidence, then by id.
func (m *Monitor) HealthiestEngine() (engine.ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return "", false
	}
	ranked := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ha, hb := m.healthyLocked(a), m.healthyLocked(b); ha != hb {
			return ha
		}
		if ra, rb := a.SuccessRatio(), b.SuccessRatio(); ra != rb {
			return ra > rb
		}
		if a.AverageConfidence != b.AverageConfidence {
			return a.AverageConfidence > b.AverageConfidence
		}
		return a.EngineID < b.EngineID
	})
	return ranked[0].EngineID, true
}

// Status returns a copy of one engine's metrics.
func (m *Monitor) Status(id engine.ID) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Metrics{}, false
	}
	return e.Metrics, true
}

// All returns a copy of every engine's metrics.
func (m *Monitor) All() map[engine.ID]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[engine.ID]Metrics, len(m.entries))
	for id, e := range m.entries {
		out[id] = e.Metrics
	}
	return out
}

func (m *Monitor) update(id engine.ID, change func(*entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &entry{Metrics: Metrics{EngineID: id}}
		m.entries[id] = e
	}
	wasHealthy := m.healthyLocked(e)
	change(e)
	e.LastUpdated = m.now()

	healthy := m.healthyLocked(e)
	if wasHealthy && !healthy {
		m.logger.Warn("engine unhealthy", "engine", id, "consecutive_failures", e.ConsecutiveFailures, "error", e.LastError)
	}
	for _, o := range m.observers {
		o.Observe(e.Metrics, healthy)
	}
}

func (m *Monitor) healthyLocked(e *entry) bool {
	return e.IsInitialized && e.IsAvailable && e.ConsecutiveFailures <= m.threshold
}

func (e *entry) fail(msg string) {
	e.FailureCount++
	e.ConsecutiveFailures++
	if msg != "" {
		e.LastError = msg
	}
}

func (e *entry) sample(confidence float64) {
	e.samples++
	e.AverageConfidence += (confidence - e.AverageConfidence) / float64(e.samples)
}
