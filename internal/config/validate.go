package config

import (
	"fmt"
	"slices"
	"strings"
)

var knownEngines = []string{EngineTextline, EngineOpenAI}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if len(cfg.Engines.Order) == 0 {
		return nil, fmt.Errorf("engines.order must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Engines.Order))
	for _, name := range cfg.Engines.Order {
		if !slices.Contains(knownEngines, name) {
			return nil, fmt.Errorf("engines.order references unknown engine %q (known: %s)", name, strings.Join(knownEngines, ", "))
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("engines.order lists %q more than once", name)
		}
		seen[name] = struct{}{}
	}
	if _, ok := seen[cfg.Engines.Preferred]; !ok {
		return nil, fmt.Errorf("engines.preferred %q must appear in engines.order", cfg.Engines.Preferred)
	}
	if cfg.Engines.InitTimeoutMS <= 0 {
		return nil, fmt.Errorf("engines.init_timeout_ms must be > 0")
	}
	for name, chain := range cfg.Engines.Fallback {
		if _, ok := seen[name]; !ok {
			return nil, fmt.Errorf("engines.fallback references engine %q not in engines.order", name)
		}
		for _, target := range chain {
			if target == name {
				return nil, fmt.Errorf("engines.fallback for %q names itself", name)
			}
			if _, ok := seen[target]; !ok {
				return nil, fmt.Errorf("engines.fallback for %q references engine %q not in engines.order", name, target)
			}
		}
	}
	if !cfg.Engines.AutoFallback && len(cfg.Engines.Fallback) > 0 {
		warnings = append(warnings, Warning{Message: "engines.fallback is set but engines.auto_fallback=false; overrides only apply to initialization"})
	}

	if err := unitInterval("recognition.min_confidence", cfg.Recognition.MinConfidence); err != nil {
		return nil, err
	}
	if err := unitInterval("recognition.fuzzy_threshold", cfg.Recognition.FuzzyThreshold); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Recognition.LanguageCode) == "" {
		return nil, fmt.Errorf("recognition.language_code must not be empty")
	}

	if cfg.Vocabulary.DebounceMS < 0 {
		return nil, fmt.Errorf("vocabulary.debounce_ms must be >= 0")
	}
	if cfg.Vocabulary.MaxPhrases < 0 {
		return nil, fmt.Errorf("vocabulary.max_phrases must be >= 0")
	}
	if cfg.Vocabulary.MaxPhrases > 0 && len(cfg.Vocabulary.Phrases) > cfg.Vocabulary.MaxPhrases {
		return nil, fmt.Errorf("vocabulary phrase count %d exceeds vocabulary.max_phrases=%d", len(cfg.Vocabulary.Phrases), cfg.Vocabulary.MaxPhrases)
	}

	if cfg.History.Capacity <= 0 {
		return nil, fmt.Errorf("history.capacity must be > 0")
	}

	if err := unitInterval("textline.confidence", cfg.Textline.Confidence); err != nil {
		return nil, err
	}

	if _, ok := seen[EngineOpenAI]; ok {
		if strings.TrimSpace(cfg.OpenAI.Model) == "" {
			return nil, fmt.Errorf("openai.model must not be empty")
		}
		if cfg.OpenAI.PollMS <= 0 {
			return nil, fmt.Errorf("openai.poll_ms must be > 0")
		}
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" && strings.TrimSpace(cfg.OpenAI.BaseURL) == "" {
			warnings = append(warnings, Warning{Message: "openai engine is enabled but OPENAI_API_KEY is unset; initialization will fail"})
		}
	}

	switch cfg.Store.Driver {
	case StoreSQLite, StoreMemory:
	default:
		return nil, fmt.Errorf("store.driver must be one of: %s, %s", StoreSQLite, StoreMemory)
	}

	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	return warnings, nil
}

func unitInterval(field string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %.2f", field, value)
	}
	return nil
}
