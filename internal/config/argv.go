package config

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseArgv splits a catalog exec string into argv. Quotes and backslash
// escapes are honored, "" yields an empty argument, and a leading # disables
// the action.
func ParseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	if strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var (
		argv    []string
		current strings.Builder
		quote   rune
		escape  bool
		pending bool
	)

	flush := func() {
		if !pending {
			return
		}
		argv = append(argv, current.String())
		current.Reset()
		pending = false
	}

	for _, r := range input {
		switch {
		case escape:
			current.WriteRune(r)
			escape = false
		case r == '\\' && quote != '\'':
			escape = true
			pending = true
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			pending = true
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			pending = true
		}
	}

	if escape {
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}

	flush()
	return argv, nil
}
