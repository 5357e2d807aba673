package coordinator

import (
	"context"

	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/matcher"
	"github.com/rbright/parlance/internal/vocabulary"
)

// UpdateVocabulary replaces the vocabulary. Propagation is debounced.
func (c *Coordinator) UpdateVocabulary(phrases []string) error { return c.vocab.Update(phrases) }

// AddVocabulary adds phrases. Propagation is debounced.
func (c *Coordinator) AddVocabulary(phrases []string) error { return c.vocab.Add(phrases) }

// RemoveVocabulary removes phrases. Propagation is debounced.
func (c *Coordinator) RemoveVocabulary(phrases []string) error { return c.vocab.Remove(phrases) }

// ClearVocabulary empties the vocabulary. Propagation is debounced.
func (c *Coordinator) ClearVocabulary() error { return c.vocab.Clear() }

// RegisterCommands adds or replaces full commands.
func (c *Coordinator) RegisterCommands(cmds ...vocabulary.Command) error {
	return c.vocab.Register(cmds...)
}

// UnregisterCommands removes commands by id.
func (c *Coordinator) UnregisterCommands(ids ...string) error { return c.vocab.Unregister(ids...) }

// FlushVocabulary propagates the current vocabulary without waiting for the
// debounce window.
func (c *Coordinator) FlushVocabulary() { c.vocab.Flush() }

// Vocabulary returns the current vocabulary snapshot.
func (c *Coordinator) Vocabulary() vocabulary.Snapshot { return c.vocab.Snapshot() }

// applyVocabulary is the debounced propagation target.
func (c *Coordinator) applyVocabulary(snap vocabulary.Snapshot) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.initTimeout)
	defer cancel()

	c.mu.RLock()
	active, closed := c.active, c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	if active != nil {
		c.setVocabulary(ctx, active, snap)
	}
	c.indexCache(ctx, snap)
}

// pushVocabulary applies the current snapshot directly to adapter. Callers
// hold switchMu.
func (c *Coordinator) pushVocabulary(ctx context.Context, adapter engine.Adapter) {
	c.setVocabulary(ctx, adapter, c.vocab.Snapshot())
}

func (c *Coordinator) setVocabulary(ctx context.Context, adapter engine.Adapter, snap vocabulary.Snapshot) {
	phrases := snap.PhraseList()
	if err := adapter.SetVocabulary(ctx, phrases); err != nil {
		c.logger.Warn("vocabulary propagation failed", "engine", adapter.ID(), "size", len(phrases), "error", err)
		return
	}
	c.logger.Debug("vocabulary propagated", "engine", adapter.ID(), "size", len(phrases), "generation", snap.Generation)
}

func (c *Coordinator) indexCache(ctx context.Context, snap vocabulary.Snapshot) {
	if c.cache == nil || snap.Size() == 0 {
		return
	}
	entries := make(map[string]matcher.Hit, snap.Size())
	for phrase, id := range snap.Phrases {
		entries[phrase] = matcher.Hit{CommandID: id, Phrase: phrase}
	}
	if err := c.cache.StoreCache(ctx, entries); err != nil {
		c.logger.Warn("cache index update failed", "size", len(entries), "error", err)
	}
}
