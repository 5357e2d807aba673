// Package openai implements a recognition engine backed by OpenAI Whisper.
//
// Audio capture is external: a recorder drops finished utterances as WAV
// files into a spool directory. While listening, the adapter polls the spool,
// transcribes each file in name order, and emits one final result per file.
// The current vocabulary is sent as the transcription prompt.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"

	"github.com/rbright/parlance/internal/engine"
)

// ID is the engine id this adapter registers under.
const ID engine.ID = "openai"

const (
	// DefaultConfidence is reported when the response carries no segments.
	DefaultConfidence = 0.95
	defaultPoll       = 250 * time.Millisecond
	// promptLimit keeps the prompt inside Whisper's 224-token window.
	promptLimit = 800
)

// Options configures an Adapter.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	SpoolDir   string
	Poll       time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Adapter transcribes spooled utterances with the OpenAI audio API.
type Adapter struct {
	opts     Options
	logger   *slog.Logger
	messages chan engine.Message

	mu         sync.Mutex
	client     *goopenai.Client
	language   string
	vocabulary []string
	cancel     context.CancelFunc
	polling    sync.WaitGroup
	closed     bool
}

// New builds an OpenAI adapter.
func New(opts Options) *Adapter {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = goopenai.Whisper1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		opts:     opts,
		logger:   logger.With("engine", string(ID)),
		messages: make(chan engine.Message, 16),
	}
}

func (a *Adapter) ID() engine.ID { return ID }

// Initialize builds the client, prepares the spool, and checks the model is reachable.
func (a *Adapter) Initialize(ctx context.Context, cfg engine.Config) error {
	if strings.TrimSpace(a.opts.APIKey) == "" {
		return engine.NewFatal("OPENAI_API_KEY is not set", nil)
	}
	spool, err := a.spoolDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{spool, filepath.Join(spool, "done"), filepath.Join(spool, "failed")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create spool dir: %w", err)
		}
	}

	clientCfg := goopenai.DefaultConfig(a.opts.APIKey)
	if base := strings.TrimSpace(a.opts.BaseURL); base != "" {
		clientCfg.BaseURL = base
	}
	if a.opts.HTTPClient != nil {
		clientCfg.HTTPClient = a.opts.HTTPClient
	}
	client := goopenai.NewClientWithConfig(clientCfg)

	model := a.opts.Model
	if cfg.Model != "" {
		model = cfg.Model
	}
	if _, err := client.GetModel(ctx, model); err != nil {
		return classify("check model "+model, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return engine.NewFatal("openai adapter closed", nil)
	}
	a.client = client
	a.opts.Model = model
	a.language = whisperLanguage(cfg.LanguageCode)
	a.logger.Debug("openai engine ready", "model", model, "spool", spool)
	return nil
}

func (a *Adapter) StartListening(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return engine.NewFatal("openai adapter closed", nil)
	}
	if a.client == nil {
		return engine.NewRecoverable("openai adapter not initialized", nil)
	}
	if a.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.polling.Add(1)
	go a.poll(ctx)
	return nil
}

func (a *Adapter) StopListening(context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.polling.Wait()
	}
	return nil
}

// SetVocabulary replaces the phrases sent as the transcription prompt.
func (a *Adapter) SetVocabulary(_ context.Context, phrases []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vocabulary = append([]string(nil), phrases...)
	return nil
}

func (a *Adapter) Messages() <-chan engine.Message { return a.messages }

func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.StopListening(context.Background())
}

func (a *Adapter) spoolDir() (string, error) {
	if dir := strings.TrimSpace(a.opts.SpoolDir); dir != "" {
		return dir, nil
	}
	return DefaultSpoolDir()
}

// DefaultSpoolDir resolves the spool under XDG runtime or the system temp dir.
func DefaultSpoolDir() (string, error) {
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, "parlance", "spool"), nil
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("parlance-%d", os.Getuid()), "spool"), nil
}

func (a *Adapter) poll(ctx context.Context) {
	defer a.polling.Done()

	ticker := time.NewTicker(a.opts.Poll)
	defer ticker.Stop()

	for {
		a.drainSpool(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Adapter) drainSpool(ctx context.Context) {
	spool, err := a.spoolDir()
	if err != nil {
		a.emit(ctx, engine.Failure(engine.NewFatal("resolve spool dir", err)))
		return
	}
	pending, err := filepath.Glob(filepath.Join(spool, "*.wav"))
	if err != nil {
		a.logger.Error("scan spool failed", "error", err.Error())
		return
	}
	sort.Strings(pending)

	for _, path := range pending {
		if ctx.Err() != nil {
			return
		}
		msg := a.transcribe(ctx, path)
		if ctx.Err() != nil {
			// Leave the file for the next session.
			return
		}
		dest := "done"
		if msg.Kind == engine.MessageError {
			dest = "failed"
		}
		if err := os.Rename(path, filepath.Join(spool, dest, filepath.Base(path))); err != nil {
			a.logger.Error("archive utterance failed", "path", path, "error", err.Error())
		}
		if msg.Kind == engine.MessageFinal && strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if !a.emit(ctx, msg) {
			return
		}
	}
}

func (a *Adapter) transcribe(ctx context.Context, path string) engine.Message {
	a.mu.Lock()
	client := a.client
	req := goopenai.AudioRequest{
		Model:    a.opts.Model,
		FilePath: path,
		Prompt:   buildPrompt(a.vocabulary),
		Language: a.language,
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	}
	a.mu.Unlock()

	started := time.Now()
	resp, err := client.CreateTranscription(ctx, req)
	if err != nil {
		return engine.Failure(classify("transcribe "+filepath.Base(path), err))
	}
	a.logger.Debug("utterance transcribed",
		"path", filepath.Base(path),
		"segments", len(resp.Segments),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return engine.Final(strings.TrimSpace(resp.Text), confidence(resp))
}

func (a *Adapter) emit(ctx context.Context, msg engine.Message) bool {
	select {
	case a.messages <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// confidence averages 1-no_speech_prob over the response segments.
func confidence(resp goopenai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return DefaultConfidence
	}
	total := 0.0
	for _, segment := range resp.Segments {
		total += 1 - segment.NoSpeechProb
	}
	c := total / float64(len(resp.Segments))
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func buildPrompt(phrases []string) string {
	var b strings.Builder
	for _, phrase := range phrases {
		if b.Len()+len(phrase)+2 > promptLimit {
			break
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(phrase)
	}
	return b.String()
}

// whisperLanguage reduces a BCP 47 tag to the ISO-639-1 code Whisper expects.
func whisperLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// classify maps API failures onto the engine error taxonomy.
func classify(message string, err error) *engine.Error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(message, apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(message, reqErr.HTTPStatusCode, err)
	}
	return engine.Classify(message, err)
}

func classifyStatus(message string, status int, err error) *engine.Error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return engine.NewFatal(message, err)
	default:
		return engine.NewRecoverable(message, err)
	}
}
