// Package matcher resolves final transcripts to vocabulary commands through
// ordered tiers: exact, learned, fuzzy, cache fallback.
package matcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbright/parlance/internal/vocabulary"
)

// Tier scores.
const (
	ExactScore   = 0.95
	LearnedScore = 0.90
	CacheScore   = 0.75

	DefaultFuzzyThreshold = 0.70
)

// Tier names the strategy that produced a match.
type Tier int

const (
	TierRejected Tier = iota
	TierExact
	TierLearned
	TierFuzzy
	TierCacheFallback
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierLearned:
		return "learned"
	case TierFuzzy:
		return "fuzzy"
	case TierCacheFallback:
		return "cache_fallback"
	case TierRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	for _, candidate := range []Tier{TierRejected, TierExact, TierLearned, TierFuzzy, TierCacheFallback} {
		if candidate.String() == string(text) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown match tier %q", text)
}

// Hit is what the learning and cache collaborators return.
type Hit struct {
	CommandID string
	Phrase    string
}

// LearnedStore remembers fuzzy matches that were accepted before.
type LearnedStore interface {
	LookupLearned(ctx context.Context, text string) (Hit, bool, error)
	RecordLearned(ctx context.Context, text string, hit Hit) error
}

// CacheStore is a secondary, possibly stale phrase index.
type CacheStore interface {
	LookupCache(ctx context.Context, text string) (Hit, bool, error)
}

// Result is the outcome of one Match call.
type Result struct {
	CommandID   string  `json:"command_id,omitempty"`
	MatchedText string  `json:"matched_text,omitempty"`
	Score       float64 `json:"score"`
	Tier        Tier    `json:"tier"`
	Level       Level   `json:"confidence_level"`
}

// Accepted reports whether the transcript resolved to a command.
func (r Result) Accepted() bool { return r.Tier != TierRejected }

// Options configures a Matcher.
type Options struct {
	Logger         *slog.Logger
	FuzzyThreshold float64
	Learned        LearnedStore
	Cache          CacheStore
}

// Matcher is safe for concurrent use when its stores are.
type Matcher struct {
	logger    *slog.Logger
	threshold float64
	learned   LearnedStore
	cache     CacheStore
}

// New constructs a Matcher. A zero threshold selects DefaultFuzzyThreshold.
func New(opts Options) *Matcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	threshold := opts.FuzzyThreshold
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Matcher{logger: logger, threshold: threshold, learned: opts.Learned, cache: opts.Cache}
}

// Threshold returns the fuzzy similarity floor.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match resolves text against vocab. Collaborator failures are logged and the
// tier they back is skipped.
func (m *Matcher) Match(ctx context.Context, vocab vocabulary.Snapshot, text string, confidence float64) Result {
	level := Band(confidence)
	normalized := vocabulary.Normalize(text)
	if normalized == "" {
		return Result{Tier: TierRejected, Level: level}
	}

	if cmd, ok := vocab.Lookup(normalized); ok {
		return Result{CommandID: cmd.ID, MatchedText: normalized, Score: ExactScore, Tier: TierExact, Level: level}
	}

	if hit, ok := m.lookupLearned(ctx, vocab, normalized); ok {
		return Result{CommandID: hit.CommandID, MatchedText: hit.Phrase, Score: LearnedScore, Tier: TierLearned, Level: level}
	}

	best, bestScore, found := bestCandidate(vocab, normalized)
	if found && bestScore >= m.threshold {
		m.recordLearned(ctx, normalized, best)
		return Result{CommandID: best.CommandID, MatchedText: best.Phrase, Score: bestScore, Tier: TierFuzzy, Level: level}
	}

	if hit, ok := m.lookupCache(ctx, normalized); ok {
		return Result{CommandID: hit.CommandID, MatchedText: hit.Phrase, Score: CacheScore, Tier: TierCacheFallback, Level: level}
	}

	return Result{Score: bestScore, Tier: TierRejected, Level: level}
}

// bestCandidate scans every phrase. Ties go to the smaller command id, then
// the smaller phrase, so the choice never depends on map order.
func bestCandidate(vocab vocabulary.Snapshot, text string) (Hit, float64, bool) {
	var (
		best  Hit
		score float64
		found bool
	)
	for phrase, id := range vocab.Phrases {
		s := Similarity(text, phrase)
		switch {
		case !found, s > score:
		case s == score && (id < best.CommandID || (id == best.CommandID && phrase < best.Phrase)):
		default:
			continue
		}
		best = Hit{CommandID: id, Phrase: phrase}
		score = s
		found = true
	}
	return best, score, found
}

func (m *Matcher) lookupLearned(ctx context.Context, vocab vocabulary.Snapshot, text string) (Hit, bool) {
	if m.learned == nil {
		return Hit{}, false
	}
	hit, ok, err := m.learned.LookupLearned(ctx, text)
	if err != nil {
		m.logger.Warn("learned lookup failed", "error", err)
		return Hit{}, false
	}
	if !ok {
		return Hit{}, false
	}
	if _, exists := vocab.Command(hit.CommandID); !exists {
		return Hit{}, false
	}
	return hit, true
}

func (m *Matcher) recordLearned(ctx context.Context, text string, hit Hit) {
	if m.learned == nil {
		return
	}
	if err := m.learned.RecordLearned(ctx, text, hit); err != nil {
		m.logger.Warn("learned record failed", "error", err, "command", hit.CommandID)
	}
}

func (m *Matcher) lookupCache(ctx context.Context, text string) (Hit, bool) {
	if m.cache == nil {
		return Hit{}, false
	}
	hit, ok, err := m.cache.LookupCache(ctx, text)
	if err != nil {
		m.logger.Warn("cache lookup failed", "error", err)
		return Hit{}, false
	}
	return hit, ok
}
