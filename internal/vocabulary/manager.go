// Package vocabulary owns the command vocabulary and its debounced propagation
// to the active recognition engine.
package vocabulary

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the propagation delay applied when Options.Debounce is unset.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Manager.
type Options struct {
	Logger *slog.Logger
	// Debounce is restarted by every mutation. Negative disables the delay.
	Debounce   time.Duration
	MaxPhrases int
	// Apply receives the latest snapshot once the debounce window closes.
	Apply func(Snapshot)
	// OnChange runs synchronously after each mutation with the new phrase count.
	OnChange func(size int)
}

// Manager holds the authoritative vocabulary.
type Manager struct {
	logger     *slog.Logger
	debounce   time.Duration
	maxPhrases int
	apply      func(Snapshot)
	onChange   func(int)

	// applyMu serializes propagation so an older generation never lands after a newer one.
	applyMu sync.Mutex

	mu         sync.Mutex
	commands   map[string]Command
	phrases    map[string]string
	generation uint64
	timer      *time.Timer
	closed     bool
}

// NewManager constructs an empty vocabulary manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	if debounce < 0 {
		debounce = 0
	}
	apply := opts.Apply
	if apply == nil {
		apply = func(Snapshot) {}
	}
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func(int) {}
	}
	return &Manager{
		logger:     logger,
		debounce:   debounce,
		maxPhrases: opts.MaxPhrases,
		apply:      apply,
		onChange:   onChange,
		commands:   map[string]Command{},
		phrases:    map[string]string{},
	}
}

// Update replaces the whole vocabulary with one bare command per phrase.
func (m *Manager) Update(phrases []string) error {
	return m.mutate("update", func(map[string]Command) map[string]Command {
		next := make(map[string]Command, len(phrases))
		for _, phrase := range NormalizeAll(phrases) {
			next[phrase] = bareCommand(phrase)
		}
		return next
	})
}

// Add registers a bare command for each phrase not already in the vocabulary.
func (m *Manager) Add(phrases []string) error {
	return m.mutate("add", func(current map[string]Command) map[string]Command {
		next := cloneCommands(current)
		existing := indexPhrases(current)
		for _, phrase := range NormalizeAll(phrases) {
			if _, ok := existing[phrase]; ok {
				continue
			}
			next[phrase] = bareCommand(phrase)
		}
		return next
	})
}

// Remove drops commands whose canonical text is listed and strips listed synonyms.
func (m *Manager) Remove(phrases []string) error {
	return m.mutate("remove", func(current map[string]Command) map[string]Command {
		drop := make(map[string]struct{}, len(phrases))
		for _, phrase := range NormalizeAll(phrases) {
			drop[phrase] = struct{}{}
		}
		next := make(map[string]Command, len(current))
		for id, cmd := range current {
			if _, ok := drop[Normalize(cmd.Canonical)]; ok {
				continue
			}
			kept := cmd.Synonyms[:0:0]
			for _, synonym := range cmd.Synonyms {
				if _, ok := drop[Normalize(synonym)]; ok {
					continue
				}
				kept = append(kept, synonym)
			}
			cmd.Synonyms = kept
			next[id] = cmd
		}
		return next
	})
}

// Clear empties the vocabulary.
func (m *Manager) Clear() error {
	return m.mutate("clear", func(map[string]Command) map[string]Command {
		return map[string]Command{}
	})
}

// Register adds or replaces full commands keyed by id.
func (m *Manager) Register(cmds ...Command) error {
	for _, cmd := range cmds {
		if err := cmd.validate(); err != nil {
			return err
		}
	}
	return m.mutate("register", func(current map[string]Command) map[string]Command {
		next := cloneCommands(current)
		for _, cmd := range cmds {
			cmd.Synonyms = append([]string(nil), cmd.Synonyms...)
			next[cmd.ID] = cmd
		}
		return next
	})
}

// Unregister removes commands by id.
func (m *Manager) Unregister(ids ...string) error {
	return m.mutate("unregister", func(current map[string]Command) map[string]Command {
		next := cloneCommands(current)
		for _, id := range ids {
			delete(next, id)
		}
		return next
	})
}

// Snapshot returns the current vocabulary.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Size returns the current phrase count.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.phrases)
}

// Pending reports whether a debounced propagation is scheduled.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Flush cancels any pending debounce and propagates the current vocabulary now.
func (m *Manager) Flush() {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	// Bumping the generation retires any timer callback already in flight.
	m.generation++
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.apply(snap)
}

// Close stops any pending propagation. Mutations after Close still update the
// in-memory set but are never propagated.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) mutate(op string, change func(map[string]Command) map[string]Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := change(m.commands)
	index := indexPhrases(next)
	if m.maxPhrases > 0 && len(index) > m.maxPhrases {
		return fmt.Errorf("%s: %d phrases exceeds max %d: %w", op, len(index), m.maxPhrases, ErrTooManyPhrases)
	}

	m.commands = next
	m.phrases = index
	m.scheduleLocked()
	m.logger.Debug("vocabulary mutated", "op", op, "size", len(index), "generation", m.generation)
	m.onChange(len(index))
	return nil
}

// scheduleLocked restarts the debounce timer for a new generation.
func (m *Manager) scheduleLocked() {
	m.generation++
	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	generation := m.generation
	m.timer = time.AfterFunc(m.debounce, func() { m.fire(generation) })
}

// fire propagates only when generation is still the latest one.
func (m *Manager) fire(generation uint64) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	if m.closed || generation != m.generation {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug("vocabulary propagating", "size", snap.Size(), "generation", generation)
	m.apply(snap)
}

func (m *Manager) snapshotLocked() Snapshot {
	commands := cloneCommands(m.commands)
	phrases := make(map[string]string, len(m.phrases))
	for phrase, id := range m.phrases {
		phrases[phrase] = id
	}
	return Snapshot{Generation: m.generation, Commands: commands, Phrases: phrases}
}

func cloneCommands(in map[string]Command) map[string]Command {
	out := make(map[string]Command, len(in))
	for id, cmd := range in {
		out[id] = cmd
	}
	return out
}
