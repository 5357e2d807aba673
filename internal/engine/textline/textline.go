// Package textline implements a recognition engine fed by lines of text.
//
// Each line read while listening becomes a sequence of partial results (one
// per word prefix) followed by a final result. A line may carry an explicit
// confidence after a '|' separator ("open settings|0.82"). Lines beginning with
// "!recoverable " or "!fatal " emit an engine error instead.
package textline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rbright/parlance/internal/engine"
)

// ID is the engine id this adapter registers under.
const ID engine.ID = "textline"

// DefaultConfidence is used for lines without an explicit confidence.
const DefaultConfidence = 0.9

// Options configures an Adapter.
type Options struct {
	// Path is opened on Initialize. Empty means Input (or stdin when Input is nil).
	Path       string
	Input      io.Reader
	Confidence float64
	Logger     *slog.Logger
}

// Adapter turns text lines into engine messages.
type Adapter struct {
	opts     Options
	logger   *slog.Logger
	messages chan engine.Message
	done     chan struct{}

	mu         sync.Mutex
	closer     io.Closer
	started    bool
	listening  bool
	gate       chan struct{}
	vocabulary []string
	closed     bool
	wg         sync.WaitGroup
}

// New builds a textline adapter.
func New(opts Options) *Adapter {
	if opts.Confidence <= 0 || opts.Confidence > 1 {
		opts.Confidence = DefaultConfidence
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		opts:     opts,
		logger:   logger.With("engine", string(ID)),
		messages: make(chan engine.Message, 64),
		done:     make(chan struct{}),
		gate:     make(chan struct{}),
	}
}

func (a *Adapter) ID() engine.ID { return ID }

// Initialize opens the line source and starts the reader. Repeated calls are no-ops.
func (a *Adapter) Initialize(ctx context.Context, _ engine.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return engine.NewFatal("textline adapter closed", nil)
	}
	if a.started {
		return nil
	}

	input := a.opts.Input
	if path := strings.TrimSpace(a.opts.Path); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open textline source: %w", err)
		}
		input = file
		a.closer = file
	}
	if input == nil {
		input = os.Stdin
	}

	a.started = true
	a.wg.Add(1)
	go a.read(input)
	a.logger.Debug("textline source ready", "path", a.opts.Path)
	return nil
}

func (a *Adapter) StartListening(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return engine.NewFatal("textline adapter closed", nil)
	}
	if !a.started {
		return engine.NewRecoverable("textline adapter not initialized", nil)
	}
	if !a.listening {
		a.listening = true
		close(a.gate)
	}
	return nil
}

func (a *Adapter) StopListening(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listening {
		a.listening = false
		a.gate = make(chan struct{})
	}
	return nil
}

// SetVocabulary records the phrase set. Text input needs no biasing.
func (a *Adapter) SetVocabulary(_ context.Context, phrases []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vocabulary = append([]string(nil), phrases...)
	a.logger.Debug("vocabulary applied", "size", len(phrases))
	return nil
}

// Vocabulary returns the last applied phrase set.
func (a *Adapter) Vocabulary() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.vocabulary...)
}

func (a *Adapter) Messages() <-chan engine.Message { return a.messages }

// Close stops the reader. The message channel stays open.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.done)
	closer := a.closer
	a.mu.Unlock()

	var err error
	if closer != nil {
		err = closer.Close()
	}
	a.wg.Wait()
	return err
}

func (a *Adapter) read(input io.Reader) {
	defer a.wg.Done()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-a.done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if !a.waitListening() {
			return
		}
		select {
		case <-a.done:
			return
		case err := <-readErr:
			a.exhausted(err)
			return
		case line := <-lines:
			if !a.isListening() {
				a.logger.Debug("dropping line read while not listening")
				continue
			}
			for _, msg := range parseLine(line, a.opts.Confidence) {
				if !a.emit(msg) {
					return
				}
			}
		}
	}
}

func (a *Adapter) exhausted(err error) {
	if err != nil && !errors.Is(err, os.ErrClosed) {
		a.emit(engine.Failure(engine.NewRecoverable("read textline source", err)))
		return
	}
	if a.isClosed() {
		return
	}
	a.emit(engine.Failure(engine.NewRecoverable("textline source exhausted", io.EOF)))
}

func (a *Adapter) waitListening() bool {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	select {
	case <-gate:
		return true
	case <-a.done:
		return false
	}
}

func (a *Adapter) isListening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) emit(msg engine.Message) bool {
	select {
	case a.messages <- msg:
		return true
	case <-a.done:
		return false
	}
}

func parseLine(line string, fallback float64) []engine.Message {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "!recoverable"); ok {
		return []engine.Message{engine.Failure(engine.NewRecoverable(strings.TrimSpace(rest), nil))}
	}
	if rest, ok := strings.CutPrefix(line, "!fatal"); ok {
		return []engine.Message{engine.Failure(engine.NewFatal(strings.TrimSpace(rest), nil))}
	}

	text, confidence := line, fallback
	if idx := strings.LastIndexByte(line, '|'); idx >= 0 {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64); err == nil && parsed >= 0 && parsed <= 1 {
			text = strings.TrimSpace(line[:idx])
			confidence = parsed
		}
	}
	if text == "" {
		return nil
	}

	words := strings.Fields(text)
	out := make([]engine.Message, 0, len(words))
	for i := 1; i < len(words); i++ {
		out = append(out, engine.Partial(strings.Join(words[:i], " "), confidence))
	}
	return append(out, engine.Final(text, confidence))
}
