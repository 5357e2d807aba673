// Package config resolves, parses, validates, and defaults parlance configuration.
package config

import "time"

// Config is the fully materialized runtime configuration.
type Config struct {
	Engines     EnginesConfig
	Recognition RecognitionConfig
	Vocabulary  VocabularyConfig
	History     HistoryConfig
	Textline    TextlineConfig
	OpenAI      OpenAIConfig
	Store       StoreConfig
	Server      ServerConfig
	Indicator   IndicatorConfig
}

// EnginesConfig selects engines and the fallback policy between them.
type EnginesConfig struct {
	Preferred     string
	Order         []string
	AutoFallback  bool
	InitTimeoutMS int
	// Fallback overrides the default rotation for individual engines.
	Fallback map[string][]string
}

// InitTimeout returns InitTimeoutMS as a duration.
func (e EnginesConfig) InitTimeout() time.Duration {
	return time.Duration(e.InitTimeoutMS) * time.Millisecond
}

// RecognitionConfig holds the confidence and matching thresholds.
type RecognitionConfig struct {
	MinConfidence  float64
	FuzzyThreshold float64
	LanguageCode   string
}

// VocabularyConfig controls the initial vocabulary and its propagation.
type VocabularyConfig struct {
	DebounceMS int
	MaxPhrases int
	Catalog    string
	Phrases    []string
}

// Debounce returns DebounceMS as a duration.
func (v VocabularyConfig) Debounce() time.Duration {
	return time.Duration(v.DebounceMS) * time.Millisecond
}

// HistoryConfig bounds the in-memory recognition history.
type HistoryConfig struct {
	Capacity int
}

// TextlineConfig drives the line-oriented text engine.
type TextlineConfig struct {
	// Path is read line by line; empty means stdin.
	Path       string
	Confidence float64
}

// OpenAIConfig drives the Whisper transcription engine.
type OpenAIConfig struct {
	APIKey   string
	Model    string
	BaseURL  string
	SpoolDir string
	PollMS   int
}

// StoreConfig selects the learning and cache store.
type StoreConfig struct {
	Driver string
	Path   string
}

// ServerConfig lists optional listener addresses. Empty disables a listener.
type ServerConfig struct {
	EventsAddr  string
	MetricsAddr string
	HealthAddr  string
}

// IndicatorConfig drives desktop notifications and audio cues.
type IndicatorConfig struct {
	Enable            bool
	SoundEnable       bool
	DesktopAppName    string
	ErrorTimeoutMS    int
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundCancelFile   string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

const (
	EngineTextline = "textline"
	EngineOpenAI   = "openai"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)
