package eventstream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parlance/internal/events"
)

// countingSource wraps a bus and records live subscriptions.
type countingSource struct {
	*events.Bus
	subscribed chan struct{}
}

func (s *countingSource) Subscribe() *events.Subscription {
	sub := s.Bus.Subscribe()
	s.subscribed <- struct{}{}
	return sub
}

func startServer(t *testing.T) (*countingSource, string) {
	t.Helper()
	source := &countingSource{Bus: events.NewBus(), subscribed: make(chan struct{}, 8)}
	server := httptest.NewServer(NewHandler(source, nil).Mux())
	t.Cleanup(server.Close)
	t.Cleanup(source.Close)
	return source, strings.TrimPrefix(server.URL, "http://")
}

func waitSubscribed(t *testing.T, source *countingSource) {
	t.Helper()
	select {
	case <-source.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("client never subscribed")
	}
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	source, addr := startServer(t)

	client, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	waitSubscribed(t, source)

	now := time.Now().UTC()
	source.Publish(events.ListeningStarted{Engine: "textline", Session: "s1", At: now})
	source.Publish(events.PartialResult{Engine: "textline", Text: "open", Confidence: 0.8, At: now})
	source.Publish(events.EngineSwitch{From: "textline", To: "openai", Reason: events.ReasonRuntimeFallback, At: now})

	first, err := client.Next()
	require.NoError(t, err)
	require.Equal(t, events.KindListeningStarted, first.Kind())
	require.Equal(t, "s1", first.(events.ListeningStarted).Session)

	second, err := client.Next()
	require.NoError(t, err)
	require.Equal(t, "open", second.(events.PartialResult).Text)

	third, err := client.Next()
	require.NoError(t, err)
	sw := third.(events.EngineSwitch)
	require.Equal(t, events.ReasonRuntimeFallback, sw.Reason)
}

func TestStreamFiltersByKind(t *testing.T) {
	source, addr := startServer(t)

	client, err := Dial(context.Background(), addr, events.KindVocabularyUpdated)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	waitSubscribed(t, source)

	source.Publish(events.PartialResult{Engine: "textline", Text: "skip", At: time.Now()})
	source.Publish(events.VocabularyUpdated{Size: 4, At: time.Now()})

	ev, err := client.Next()
	require.NoError(t, err)
	require.Equal(t, 4, ev.(events.VocabularyUpdated).Size)
}

func TestStreamClosesWhenBusCloses(t *testing.T) {
	source, addr := startServer(t)

	client, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	waitSubscribed(t, source)

	source.Close()
	_, err = client.Next()
	require.Error(t, err)
}

func TestParseFilter(t *testing.T) {
	require.Nil(t, parseFilter(""))
	require.Equal(t, map[events.Kind]struct{}{
		events.KindFinalResult: {},
		events.KindError:       {},
	}, parseFilter(" final_result, ,error"))
}
