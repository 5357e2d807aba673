package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Engines: EnginesConfig{
			Preferred:     EngineTextline,
			Order:         []string{EngineTextline, EngineOpenAI},
			AutoFallback:  true,
			InitTimeoutMS: 10000,
			Fallback:      map[string][]string{},
		},
		Recognition: RecognitionConfig{
			MinConfidence:  0.5,
			FuzzyThreshold: 0.70,
			LanguageCode:   "en-US",
		},
		Vocabulary: VocabularyConfig{
			DebounceMS: 500,
			MaxPhrases: 4096,
		},
		History:  HistoryConfig{Capacity: 50},
		Textline: TextlineConfig{Confidence: 0.9},
		OpenAI: OpenAIConfig{
			Model:  "whisper-1",
			PollMS: 250,
		},
		Store: StoreConfig{Driver: StoreSQLite},
		Indicator: IndicatorConfig{
			DesktopAppName: "parlance",
			ErrorTimeoutMS: 1600,
		},
	}
}
