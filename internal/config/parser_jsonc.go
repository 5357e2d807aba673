package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse reads JSONC configuration content on top of base and validates the result.
// Empty content yields base.
func Parse(content string, base Config) (Config, []Warning, error) {
	return parseJSONC(content, base)
}

type jsoncConfig struct {
	Engines     *jsoncEngines     `json:"engines"`
	Recognition *jsoncRecognition `json:"recognition"`
	Vocabulary  *jsoncVocabulary  `json:"vocabulary"`
	History     *jsoncHistory     `json:"history"`
	Textline    *jsoncTextline    `json:"textline"`
	OpenAI      *jsoncOpenAI      `json:"openai"`
	Store       *jsoncStore       `json:"store"`
	Server      *jsoncServer      `json:"server"`
	Indicator   *jsoncIndicator   `json:"indicator"`
}

type jsoncEngines struct {
	Preferred     *string             `json:"preferred"`
	Order         *jsoncStringList    `json:"order"`
	AutoFallback  *bool               `json:"auto_fallback"`
	InitTimeoutMS *int                `json:"init_timeout_ms"`
	Fallback      map[string][]string `json:"fallback"`
}

type jsoncRecognition struct {
	MinConfidence  *float64 `json:"min_confidence"`
	FuzzyThreshold *float64 `json:"fuzzy_threshold"`
	LanguageCode   *string  `json:"language_code"`
}

type jsoncVocabulary struct {
	DebounceMS *int     `json:"debounce_ms"`
	MaxPhrases *int     `json:"max_phrases"`
	Catalog    *string  `json:"catalog"`
	Phrases    []string `json:"phrases"`
}

type jsoncHistory struct {
	Capacity *int `json:"capacity"`
}

type jsoncTextline struct {
	Path       *string  `json:"path"`
	Confidence *float64 `json:"confidence"`
}

type jsoncOpenAI struct {
	Model    *string `json:"model"`
	BaseURL  *string `json:"base_url"`
	SpoolDir *string `json:"spool_dir"`
	PollMS   *int    `json:"poll_ms"`
}

type jsoncStore struct {
	Driver *string `json:"driver"`
	Path   *string `json:"path"`
}

type jsoncServer struct {
	EventsAddr  *string `json:"events_addr"`
	MetricsAddr *string `json:"metrics_addr"`
	HealthAddr  *string `json:"health_addr"`
}

type jsoncIndicator struct {
	Enable            *bool   `json:"enable"`
	SoundEnable       *bool   `json:"sound_enable"`
	DesktopAppName    *string `json:"desktop_app_name"`
	ErrorTimeoutMS    *int    `json:"error_timeout_ms"`
	SoundStartFile    *string `json:"sound_start_file"`
	SoundStopFile     *string `json:"sound_stop_file"`
	SoundCompleteFile *string `json:"sound_complete_file"`
	SoundCancelFile   *string `json:"sound_cancel_file"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	cfg, err := decodeJSONC(content, base)
	if err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

// decodeJSONC overlays a JSONC document on base without validating the result.
func decodeJSONC(content string, base Config) (Config, error) {
	if strings.TrimSpace(content) == "" {
		return base, nil
	}

	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	cfg.Engines.Order = append([]string(nil), base.Engines.Order...)
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {

	if payload.Engines != nil {
		if payload.Engines.Preferred != nil {
			cfg.Engines.Preferred = strings.TrimSpace(*payload.Engines.Preferred)
		}
		if payload.Engines.Order != nil {
			order := make([]string, 0, len(*payload.Engines.Order))
			for _, name := range *payload.Engines.Order {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				order = append(order, name)
			}
			cfg.Engines.Order = order
		}
		if payload.Engines.AutoFallback != nil {
			cfg.Engines.AutoFallback = *payload.Engines.AutoFallback
		}
		if payload.Engines.InitTimeoutMS != nil {
			cfg.Engines.InitTimeoutMS = *payload.Engines.InitTimeoutMS
		}
		if payload.Engines.Fallback != nil {
			fallback := make(map[string][]string, len(payload.Engines.Fallback))
			for name, chain := range payload.Engines.Fallback {
				trimmed := strings.TrimSpace(name)
				if trimmed == "" {
					return fmt.Errorf("engines.fallback contains an empty engine name")
				}
				fallback[trimmed] = append([]string(nil), chain...)
			}
			cfg.Engines.Fallback = fallback
		}
	}

	if payload.Recognition != nil {
		if payload.Recognition.MinConfidence != nil {
			cfg.Recognition.MinConfidence = *payload.Recognition.MinConfidence
		}
		if payload.Recognition.FuzzyThreshold != nil {
			cfg.Recognition.FuzzyThreshold = *payload.Recognition.FuzzyThreshold
		}
		if payload.Recognition.LanguageCode != nil {
			cfg.Recognition.LanguageCode = strings.TrimSpace(*payload.Recognition.LanguageCode)
		}
	}

	if payload.Vocabulary != nil {
		if payload.Vocabulary.DebounceMS != nil {
			cfg.Vocabulary.DebounceMS = *payload.Vocabulary.DebounceMS
		}
		if payload.Vocabulary.MaxPhrases != nil {
			cfg.Vocabulary.MaxPhrases = *payload.Vocabulary.MaxPhrases
		}
		if payload.Vocabulary.Catalog != nil {
			cfg.Vocabulary.Catalog = strings.TrimSpace(*payload.Vocabulary.Catalog)
		}
		if payload.Vocabulary.Phrases != nil {
			cfg.Vocabulary.Phrases = append([]string(nil), payload.Vocabulary.Phrases...)
		}
	}

	if payload.History != nil && payload.History.Capacity != nil {
		cfg.History.Capacity = *payload.History.Capacity
	}

	if payload.Textline != nil {
		if payload.Textline.Path != nil {
			cfg.Textline.Path = strings.TrimSpace(*payload.Textline.Path)
		}
		if payload.Textline.Confidence != nil {
			cfg.Textline.Confidence = *payload.Textline.Confidence
		}
	}

	if payload.OpenAI != nil {
		if payload.OpenAI.Model != nil {
			cfg.OpenAI.Model = strings.TrimSpace(*payload.OpenAI.Model)
		}
		if payload.OpenAI.BaseURL != nil {
			cfg.OpenAI.BaseURL = strings.TrimSpace(*payload.OpenAI.BaseURL)
		}
		if payload.OpenAI.SpoolDir != nil {
			cfg.OpenAI.SpoolDir = strings.TrimSpace(*payload.OpenAI.SpoolDir)
		}
		if payload.OpenAI.PollMS != nil {
			cfg.OpenAI.PollMS = *payload.OpenAI.PollMS
		}
	}

	if payload.Store != nil {
		if payload.Store.Driver != nil {
			cfg.Store.Driver = strings.ToLower(strings.TrimSpace(*payload.Store.Driver))
		}
		if payload.Store.Path != nil {
			cfg.Store.Path = strings.TrimSpace(*payload.Store.Path)
		}
	}

	if payload.Server != nil {
		if payload.Server.EventsAddr != nil {
			cfg.Server.EventsAddr = strings.TrimSpace(*payload.Server.EventsAddr)
		}
		if payload.Server.MetricsAddr != nil {
			cfg.Server.MetricsAddr = strings.TrimSpace(*payload.Server.MetricsAddr)
		}
		if payload.Server.HealthAddr != nil {
			cfg.Server.HealthAddr = strings.TrimSpace(*payload.Server.HealthAddr)
		}
	}

	if payload.Indicator != nil {
		if payload.Indicator.Enable != nil {
			cfg.Indicator.Enable = *payload.Indicator.Enable
		}
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
		if payload.Indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*payload.Indicator.DesktopAppName)
		}
		if payload.Indicator.ErrorTimeoutMS != nil {
			cfg.Indicator.ErrorTimeoutMS = *payload.Indicator.ErrorTimeoutMS
		}
		if payload.Indicator.SoundStartFile != nil {
			cfg.Indicator.SoundStartFile = strings.TrimSpace(*payload.Indicator.SoundStartFile)
		}
		if payload.Indicator.SoundStopFile != nil {
			cfg.Indicator.SoundStopFile = strings.TrimSpace(*payload.Indicator.SoundStopFile)
		}
		if payload.Indicator.SoundCompleteFile != nil {
			cfg.Indicator.SoundCompleteFile = strings.TrimSpace(*payload.Indicator.SoundCompleteFile)
		}
		if payload.Indicator.SoundCancelFile != nil {
			cfg.Indicator.SoundCancelFile = strings.TrimSpace(*payload.Indicator.SoundCancelFile)
		}
	}

	return nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
