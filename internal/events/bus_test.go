package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rbright/parlance/internal/matcher"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestEveryConsumerSeesPublishOrder(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	for i := 0; i < 100; i++ {
		bus.Publish(VocabularyUpdated{Size: i})
	}

	for _, sub := range []*Subscription{a, b} {
		for i := 0; i < 100; i++ {
			ev := receive(t, sub)
			require.Equal(t, i, ev.(VocabularyUpdated).Size)
		}
	}
}

func TestConcurrentProducersAreTotallyOrdered(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Publish(PartialResult{Text: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < 200; i++ {
		require.Equal(t, receive(t, a), receive(t, b))
	}
}

func TestSlowConsumerDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	_ = bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(VocabularyUpdated{Size: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an idle subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Publish(VocabularyUpdated{Size: 1})
	bus.Unsubscribe(sub)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	bus.Publish(VocabularyUpdated{Size: 2})
}

func TestCloseDeliversQueuedEventsThenCloses(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Publish(EngineSwitch{From: "a", To: "b", Reason: ReasonManual})
	bus.Close()
	bus.Close()

	ev := receive(t, sub)
	require.Equal(t, KindEngineSwitch, ev.Kind())
	_, ok := <-sub.C
	require.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late.C
	require.False(t, ok)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	original := FinalResult{
		Engine:     "textline",
		Text:       "open setting",
		Confidence: 0.8,
		Match: matcher.Result{
			CommandID:   "open_settings",
			MatchedText: "open settings",
			Score:       0.92,
			Tier:        matcher.TierFuzzy,
			Level:       matcher.LevelMedium,
		},
		At: at,
	}

	raw, err := Marshal(original)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"type":"final_result"`)
	require.Contains(t, string(raw), `"tier":"fuzzy"`)

	decoded, err := Unmarshal(raw)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"bogus","data":{}}`))
	require.ErrorContains(t, err, "unknown event type")
}
