// Package history keeps a bounded, in-memory record of recognition outcomes.
package history

import (
	"sync"
	"time"

	"github.com/rbright/parlance/internal/engine"
)

// DefaultCapacity is used when New receives a non-positive capacity.
const DefaultCapacity = 50

// Record is one final recognition outcome.
type Record struct {
	Text          string    `json:"text"`
	Confidence    float64   `json:"confidence"`
	WasSuccessful bool      `json:"was_successful"`
	EngineID      engine.ID `json:"engine_id"`
	CommandID     string    `json:"command_id,omitempty"`
	Session       string    `json:"session,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Buffer is a fixed-capacity ring. The oldest record is evicted first.
type Buffer struct {
	mu    sync.Mutex
	items []Record
	next  int
	full  bool
}

// New returns an empty buffer.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]Record, capacity)}
}

// Add appends rec, evicting the oldest record when the buffer is full.
func (b *Buffer) Add(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.next] = rec
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return len(b.items) }

// Recent returns up to limit of the newest records, oldest first.
// A non-positive limit returns everything.
func (b *Buffer) Recent(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	start := b.next - limit
	if start < 0 {
		start += len(b.items)
	}
	for i := 0; i < limit; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

func (b *Buffer) lenLocked() int {
	if b.full {
		return len(b.items)
	}
	return b.next
}
