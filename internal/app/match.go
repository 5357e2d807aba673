package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/parlance/internal/cli"
	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/matcher"
)

// commandMatch runs the tiered matcher once against the configured
// vocabulary. Learned matches are looked up but never recorded.
func (r Runner) commandMatch(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	text := strings.Join(parsed.Args, " ")
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		fmt.Fprintf(r.Stderr, "error: --confidence must be within [0,1]\n")
		return 2
	}

	minConfidence := cfg.Recognition.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	if parsed.Confidence < minConfidence {
		fmt.Fprintf(r.Stdout, "tier=rejected confidence=%.2f below min_confidence=%.2f\n", parsed.Confidence, minConfidence)
		return 1
	}

	cat, err := loadCatalog(cfg.Vocabulary.Catalog)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	snap, err := offlineVocabulary(cfg, cat, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	opts := matcher.Options{Logger: logger, FuzzyThreshold: cfg.Recognition.FuzzyThreshold}
	st, err := offlineStore(ctx, cfg.Store)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		opts.Learned = st
		opts.Cache = st
	}

	result := matcher.New(opts).Match(ctx, snap, text, parsed.Confidence)
	if parsed.JSON {
		raw, err := jsonLine(result)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, raw)
	} else {
		line := fmt.Sprintf("tier=%s score=%.4f band=%s", result.Tier, result.Score, result.Level)
		if result.Accepted() {
			line += fmt.Sprintf(" command=%s matched=%q", result.CommandID, result.MatchedText)
		}
		fmt.Fprintln(r.Stdout, line)
	}
	if !result.Accepted() {
		return 1
	}
	return 0
}

func jsonLine(result matcher.Result) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode match result: %w", err)
	}
	return string(raw), nil
}
