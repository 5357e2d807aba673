package matcher

import "fmt"

// Level bands the recognizer's own confidence, independent of match score.
type Level int

const (
	LevelReject Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

const (
	highConfidence   = 0.85
	mediumConfidence = 0.70
	lowConfidence    = 0.50
)

// Band maps a recognizer confidence onto a Level.
func Band(confidence float64) Level {
	switch {
	case confidence >= highConfidence:
		return LevelHigh
	case confidence >= mediumConfidence:
		return LevelMedium
	case confidence >= lowConfidence:
		return LevelLow
	default:
		return LevelReject
	}
}

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	case LevelLow:
		return "low"
	case LevelReject:
		return "reject"
	default:
		return "unknown"
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(text []byte) error {
	for _, candidate := range []Level{LevelReject, LevelLow, LevelMedium, LevelHigh} {
		if candidate.String() == string(text) {
			*l = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown confidence level %q", text)
}
