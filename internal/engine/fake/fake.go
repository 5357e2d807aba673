// Package fake provides a scriptable engine adapter for tests.
package fake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/parlance/internal/engine"
)

// Adapter is an in-memory engine whose behavior is set by the test.
type Adapter struct {
	id       engine.ID
	messages chan engine.Message

	// InitDelay blocks Initialize until it elapses or ctx ends.
	InitDelay time.Duration

	mu          sync.Mutex
	initErr     error
	startErr    error
	initialized bool
	listening   bool
	vocabulary  []string
	vocabCalls  [][]string

	InitCalls  atomic.Int32
	StartCalls atomic.Int32
	StopCalls  atomic.Int32
	closed     atomic.Bool
}

// New builds a fake adapter with a buffered message channel.
func New(id engine.ID) *Adapter {
	return &Adapter{id: id, messages: make(chan engine.Message, 64)}
}

func (a *Adapter) ID() engine.ID { return a.id }

// FailInit makes subsequent Initialize calls return err (nil clears it).
func (a *Adapter) FailInit(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initErr = err
}

// FailStart makes subsequent StartListening calls return err.
func (a *Adapter) FailStart(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startErr = err
}

func (a *Adapter) Initialize(ctx context.Context, _ engine.Config) error {
	a.InitCalls.Add(1)
	if a.InitDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.InitDelay):
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initErr != nil {
		return a.initErr
	}
	a.initialized = true
	return nil
}

func (a *Adapter) StartListening(context.Context) error {
	a.StartCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	if !a.initialized {
		return errors.New("fake engine not initialized")
	}
	a.listening = true
	return nil
}

func (a *Adapter) StopListening(context.Context) error {
	a.StopCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listening = false
	return nil
}

func (a *Adapter) SetVocabulary(_ context.Context, phrases []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := append([]string(nil), phrases...)
	a.vocabulary = copied
	a.vocabCalls = append(a.vocabCalls, copied)
	return nil
}

func (a *Adapter) Messages() <-chan engine.Message { return a.messages }

func (a *Adapter) Close() error {
	a.closed.Store(true)
	return nil
}

// Emit queues one message as if the back-end produced it.
func (a *Adapter) Emit(msg engine.Message) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	a.messages <- msg
}

// EmitPartial queues a partial result.
func (a *Adapter) EmitPartial(text string, confidence float64) {
	a.Emit(engine.Partial(text, confidence))
}

// EmitFinal queues a final result.
func (a *Adapter) EmitFinal(text string, confidence float64) {
	a.Emit(engine.Final(text, confidence))
}

// EmitError queues an engine error.
func (a *Adapter) EmitError(err *engine.Error) {
	a.Emit(engine.Failure(err))
}

// Listening reports whether the fake is currently listening.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Initialized reports whether Initialize succeeded at least once.
func (a *Adapter) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Vocabulary returns the last vocabulary pushed to the fake.
func (a *Adapter) Vocabulary() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.vocabulary...)
}

// VocabularyCalls returns every SetVocabulary payload in call order.
func (a *Adapter) VocabularyCalls() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]string, len(a.vocabCalls))
	copy(out, a.vocabCalls)
	return out
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool { return a.closed.Load() }
