package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the environment variables that take precedence over the file.
type envOverrides struct {
	PreferredEngine *string  `env:"PARLANCE_PREFERRED_ENGINE"`
	AutoFallback    *bool    `env:"PARLANCE_AUTO_FALLBACK"`
	MinConfidence   *float64 `env:"PARLANCE_MIN_CONFIDENCE"`
	FuzzyThreshold  *float64 `env:"PARLANCE_FUZZY_THRESHOLD"`
	DebounceMS      *int     `env:"PARLANCE_VOCAB_DEBOUNCE_MS"`
	InitTimeoutMS   *int     `env:"PARLANCE_ENGINE_INIT_TIMEOUT_MS"`
	StorePath       *string  `env:"PARLANCE_STORE_PATH"`
	OpenAIAPIKey    *string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   *string  `env:"OPENAI_BASE_URL"`
}

// ApplyEnv overlays environment overrides onto cfg. A nil environ reads the process environment.
func ApplyEnv(cfg Config, environ map[string]string) (Config, error) {
	var overrides envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&overrides, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	overrides.applyTo(&cfg)
	return cfg, nil
}

func (o envOverrides) applyTo(cfg *Config) {
	if o.PreferredEngine != nil {
		cfg.Engines.Preferred = strings.TrimSpace(*o.PreferredEngine)
	}
	if o.AutoFallback != nil {
		cfg.Engines.AutoFallback = *o.AutoFallback
	}
	if o.MinConfidence != nil {
		cfg.Recognition.MinConfidence = *o.MinConfidence
	}
	if o.FuzzyThreshold != nil {
		cfg.Recognition.FuzzyThreshold = *o.FuzzyThreshold
	}
	if o.DebounceMS != nil {
		cfg.Vocabulary.DebounceMS = *o.DebounceMS
	}
	if o.InitTimeoutMS != nil {
		cfg.Engines.InitTimeoutMS = *o.InitTimeoutMS
	}
	if o.StorePath != nil {
		cfg.Store.Path = strings.TrimSpace(*o.StorePath)
	}
	if o.OpenAIAPIKey != nil {
		cfg.OpenAI.APIKey = strings.TrimSpace(*o.OpenAIAPIKey)
	}
	if o.OpenAIBaseURL != nil {
		cfg.OpenAI.BaseURL = strings.TrimSpace(*o.OpenAIBaseURL)
	}
}
