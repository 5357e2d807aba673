package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/rbright/parlance/internal/engine"
)

type whisperServer struct {
	mu      sync.Mutex
	prompts []string
	langs   []string
	status  int
	text    string
}

func (s *whisperServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/whisper-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "whisper-1", "object": "model", "owned_by": "openai"})
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		s.mu.Lock()
		s.prompts = append(s.prompts, r.FormValue("prompt"))
		s.langs = append(s.langs, r.FormValue("language"))
		status, text := s.status, s.text
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "nope", "type": "server_error"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task": "transcribe",
			"text": text,
			"segments": []map[string]any{
				{"id": 0, "text": text, "no_speech_prob": 0.1},
				{"id": 1, "text": "", "no_speech_prob": 0.3},
			},
		})
	})
	return mux
}

func newTestAdapter(t *testing.T, srv *whisperServer) (*Adapter, string) {
	t.Helper()
	server := httptest.NewServer(srv.handler(t))
	t.Cleanup(server.Close)

	spool := t.TempDir()
	a := New(Options{
		APIKey:   "sk-test",
		BaseURL:  server.URL + "/v1",
		SpoolDir: spool,
		Poll:     10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = a.Close() })
	return a, spool
}

func TestAdapterTranscribesSpooledUtterances(t *testing.T) {
	srv := &whisperServer{text: " open settings "}
	a, spool := newTestAdapter(t, srv)
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx, engine.Config{LanguageCode: "en-US"}))
	require.NoError(t, a.SetVocabulary(ctx, []string{"open settings", "go back"}))
	require.NoError(t, os.WriteFile(filepath.Join(spool, "0001.wav"), []byte("RIFF"), 0o600))
	require.NoError(t, a.StartListening(ctx))

	msg := receive(t, a)
	require.Equal(t, engine.MessageFinal, msg.Kind)
	require.Equal(t, "open settings", msg.Text)
	require.InDelta(t, 0.8, msg.Confidence, 1e-9)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(spool, "done", "0001.wav"))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Equal(t, []string{"open settings, go back"}, srv.prompts)
	require.Equal(t, []string{"en"}, srv.langs)
}

func TestAdapterServerErrorIsRecoverable(t *testing.T) {
	srv := &whisperServer{status: http.StatusServiceUnavailable}
	a, spool := newTestAdapter(t, srv)
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx, engine.Config{}))
	require.NoError(t, os.WriteFile(filepath.Join(spool, "0001.wav"), []byte("RIFF"), 0o600))
	require.NoError(t, a.StartListening(ctx))

	msg := receive(t, a)
	require.Equal(t, engine.MessageError, msg.Kind)
	require.True(t, msg.Err.Recoverable)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(spool, "failed", "0001.wav"))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestAdapterInitializeRequiresKey(t *testing.T) {
	a := New(Options{SpoolDir: t.TempDir()})
	err := a.Initialize(context.Background(), engine.Config{})
	require.Error(t, err)
	require.False(t, engine.IsRecoverable(err))
	require.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestAdapterInitializeUnknownModelIsFatal(t *testing.T) {
	a, _ := newTestAdapter(t, &whisperServer{})
	err := a.Initialize(context.Background(), engine.Config{Model: "whisper-9"})
	require.Error(t, err)
	require.False(t, engine.IsRecoverable(err))
}

func TestAdapterStartBeforeInitialize(t *testing.T) {
	a := New(Options{APIKey: "sk-test"})
	err := a.StartListening(context.Background())
	require.Error(t, err)
	require.True(t, engine.IsRecoverable(err))
}

func TestConfidence(t *testing.T) {
	require.InDelta(t, DefaultConfidence, confidence(goopenai.AudioResponse{}), 1e-9)
}

func TestBuildPromptRespectsLimit(t *testing.T) {
	require.Equal(t, "", buildPrompt(nil))
	require.Equal(t, "a, b", buildPrompt([]string{"a", "b"}))

	long := make([]string, 0, 400)
	for range 400 {
		long = append(long, "open settings")
	}
	require.LessOrEqual(t, len(buildPrompt(long)), promptLimit)
}

func TestWhisperLanguage(t *testing.T) {
	require.Equal(t, "en", whisperLanguage("en-US"))
	require.Equal(t, "de", whisperLanguage("de"))
	require.Equal(t, "", whisperLanguage(""))
	require.Equal(t, "", whisperLanguage("not a tag!"))
}

func TestClassify(t *testing.T) {
	unauthorized := classify("x", &goopenai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"})
	require.False(t, unauthorized.Recoverable)

	limited := classify("x", &goopenai.APIError{HTTPStatusCode: http.StatusTooManyRequests})
	require.True(t, limited.Recoverable)

	transport := classify("x", errors.New("connection reset"))
	require.True(t, transport.Recoverable)
}

func receive(t *testing.T, a *Adapter) engine.Message {
	t.Helper()
	select {
	case msg := <-a.Messages():
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for openai message")
		return engine.Message{}
	}
}
