package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/parlance/internal/vocabulary"
	"github.com/stretchr/testify/require"
)

type fakeLearned struct {
	mu       sync.Mutex
	entries  map[string]Hit
	recorded []string
	err      error
}

func newFakeLearned() *fakeLearned { return &fakeLearned{entries: map[string]Hit{}} }

func (f *fakeLearned) LookupLearned(_ context.Context, text string) (Hit, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Hit{}, false, f.err
	}
	hit, ok := f.entries[text]
	return hit, ok, nil
}

func (f *fakeLearned) RecordLearned(_ context.Context, text string, hit Hit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[text] = hit
	f.recorded = append(f.recorded, text)
	return nil
}

type fakeCache map[string]Hit

func (f fakeCache) LookupCache(_ context.Context, text string) (Hit, bool, error) {
	hit, ok := f[text]
	return hit, ok, nil
}

func snapshotOf(t *testing.T, cmds ...vocabulary.Command) vocabulary.Snapshot {
	t.Helper()
	m := vocabulary.NewManager(vocabulary.Options{Debounce: time.Hour})
	t.Cleanup(m.Close)
	require.NoError(t, m.Register(cmds...))
	return m.Snapshot()
}

func TestExactMatchNormalizesInput(t *testing.T) {
	vocab := snapshotOf(t, vocabulary.Command{ID: "open_settings", Canonical: "open settings", Synonyms: []string{"show settings"}})
	m := New(Options{})

	res := m.Match(context.Background(), vocab, "  Show  SETTINGS ", 0.9)
	require.Equal(t, TierExact, res.Tier)
	require.Equal(t, "open_settings", res.CommandID)
	require.Equal(t, "show settings", res.MatchedText)
	require.Equal(t, ExactScore, res.Score)
	require.Equal(t, LevelHigh, res.Level)
	require.True(t, res.Accepted())
}

func TestFuzzyMatchRecordsLearnedMapping(t *testing.T) {
	vocab := snapshotOf(t, vocabulary.Command{ID: "open settings", Canonical: "open settings"})
	learned := newFakeLearned()
	m := New(Options{Learned: learned})

	res := m.Match(context.Background(), vocab, "open setting", 0.8)
	require.Equal(t, TierFuzzy, res.Tier)
	require.Equal(t, "open settings", res.MatchedText)
	require.InDelta(t, 12.0/13.0, res.Score, 1e-9)
	require.Equal(t, LevelMedium, res.Level)
	require.Equal(t, []string{"open setting"}, learned.recorded)

	again := m.Match(context.Background(), vocab, "open setting", 0.8)
	require.Equal(t, TierLearned, again.Tier)
	require.Equal(t, LearnedScore, again.Score)
	require.Equal(t, "open settings", again.CommandID)
}

func TestExactOutranksFuzzyAndLearned(t *testing.T) {
	vocab := snapshotOf(t,
		vocabulary.Command{ID: "a", Canonical: "scroll up"},
		vocabulary.Command{ID: "b", Canonical: "scroll upp"},
	)
	learned := newFakeLearned()
	learned.entries["scroll up"] = Hit{CommandID: "b", Phrase: "scroll upp"}
	m := New(Options{Learned: learned})

	res := m.Match(context.Background(), vocab, "scroll up", 0.9)
	require.Equal(t, TierExact, res.Tier)
	require.Equal(t, "a", res.CommandID)
	require.Empty(t, learned.recorded)
}

func TestLearnedOutranksHigherFuzzy(t *testing.T) {
	vocab := snapshotOf(t,
		vocabulary.Command{ID: "close_tab", Canonical: "close tab"},
		vocabulary.Command{ID: "close_tabs", Canonical: "close tabs"},
	)
	learned := newFakeLearned()
	learned.entries["close tap"] = Hit{CommandID: "close_tabs", Phrase: "close tabs"}
	m := New(Options{Learned: learned})

	res := m.Match(context.Background(), vocab, "close tap", 0.9)
	require.Equal(t, TierLearned, res.Tier)
	require.Equal(t, "close_tabs", res.CommandID)
}

func TestLearnedHitIgnoredWhenCommandIsGone(t *testing.T) {
	vocab := snapshotOf(t, vocabulary.Command{ID: "home", Canonical: "go home"})
	learned := newFakeLearned()
	learned.entries["go hone"] = Hit{CommandID: "deleted", Phrase: "gone"}
	m := New(Options{Learned: learned})

	res := m.Match(context.Background(), vocab, "go hone", 0.9)
	require.Equal(t, TierFuzzy, res.Tier)
	require.Equal(t, "home", res.CommandID)
}

func TestFuzzyTieBreakIsDeterministic(t *testing.T) {
	vocab := snapshotOf(t,
		vocabulary.Command{ID: "zulu", Canonical: "cat"},
		vocabulary.Command{ID: "alpha", Canonical: "bat"},
		vocabulary.Command{ID: "mike", Canonical: "hat"},
	)
	m := New(Options{FuzzyThreshold: 0.6})

	for i := 0; i < 50; i++ {
		res := m.Match(context.Background(), vocab, "rat", 0.9)
		require.Equal(t, TierFuzzy, res.Tier)
		require.Equal(t, "alpha", res.CommandID)
		require.Equal(t, "bat", res.MatchedText)
	}
}

func TestCacheFallbackAfterFuzzyMiss(t *testing.T) {
	vocab := snapshotOf(t, vocabulary.Command{ID: "open", Canonical: "open browser"})
	cache := fakeCache{"launch web": {CommandID: "open", Phrase: "open browser"}}
	m := New(Options{Cache: cache})

	res := m.Match(context.Background(), vocab, "launch web", 0.6)
	require.Equal(t, TierCacheFallback, res.Tier)
	require.Equal(t, CacheScore, res.Score)
	require.Equal(t, LevelLow, res.Level)
}

func TestRejectedCarriesBestSimilarity(t *testing.T) {
	vocab := snapshotOf(t, vocabulary.Command{ID: "x", Canonical: "abcd"})
	m := New(Options{})

	res := m.Match(context.Background(), vocab, "abzz", 0.4)
	require.Equal(t, TierRejected, res.Tier)
	require.False(t, res.Accepted())
	require.InDelta(t, 0.5, res.Score, 1e-9)
	require.Less(t, res.Score, m.Threshold())
	require.Empty(t, res.CommandID)
	require.Equal(t, LevelReject, res.Level)
}

func TestRejectedOnEmptyTranscriptOrVocabulary(t *testing.T) {
	m := New(Options{})
	require.Equal(t, TierRejected, m.Match(context.Background(), vocabulary.Snapshot{}, "hello", 0.9).Tier)

	vocab := snapshotOf(t, vocabulary.Command{ID: "x", Canonical: "hello"})
	require.Equal(t, TierRejected, m.Match(context.Background(), vocab, "   ", 0.9).Tier)
}

func TestCollaboratorErrorsSkipTier(t *testing.T) {
	vocab := snapshotOf(t, vocabulary.Command{ID: "open settings", Canonical: "open settings"})
	learned := newFakeLearned()
	learned.err = errors.New("store offline")
	m := New(Options{Learned: learned})

	res := m.Match(context.Background(), vocab, "open setting", 0.9)
	require.Equal(t, TierFuzzy, res.Tier)
}

func TestSimilarity(t *testing.T) {
	require.Equal(t, 1.0, Similarity("", ""))
	require.Equal(t, 1.0, Similarity("same", "same"))
	require.Equal(t, 0.0, Similarity("", "abc"))
	require.InDelta(t, 0.75, Similarity("über", "uber"), 1e-9)
}

func TestBand(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Level
	}{
		{0.95, LevelHigh},
		{0.85, LevelHigh},
		{0.84, LevelMedium},
		{0.70, LevelMedium},
		{0.5, LevelLow},
		{0.49, LevelReject},
		{0, LevelReject},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, Band(tc.confidence), "confidence %v", tc.confidence)
	}
	require.Equal(t, "medium", LevelMedium.String())
	require.Equal(t, "cache_fallback", TierCacheFallback.String())
}
