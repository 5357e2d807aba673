package events

import (
	"sync"
)

// Subscription receives every event published after it was created, in
// publish order. C is closed by Unsubscribe or Bus.Close.
type Subscription struct {
	C <-chan Event

	out     chan Event
	quit    chan struct{}
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	done    bool
}

// Bus fans events out to subscribers. Publish never blocks on a slow
// consumer: each subscription buffers without bound and drains through its
// own goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[*Subscription]struct{}{}}
}

// Subscribe registers a new consumer. Subscribing to a closed bus returns a
// subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	out := make(chan Event)
	s := &Subscription{C: out, out: out, quit: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(out)
		return s
	}
	b.subs[s] = struct{}{}
	go s.pump()
	return s
}

// Unsubscribe detaches s, drops anything still queued and closes its channel.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()
	if ok {
		s.stop(true)
	}
}

// Publish appends ev to every subscription. Publishes are serialized, so
// every consumer observes the same order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(ev)
	}
}

// Close detaches every subscriber. Events already queued are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.stop(false)
	}
	b.subs = nil
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.pending = append(s.pending, ev)
	s.cond.Signal()
}

func (s *Subscription) stop(discard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if discard {
		s.pending = nil
		close(s.quit)
	}
	s.cond.Signal()
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}
