package vocabulary

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrTooManyPhrases rejects a mutation that would exceed the phrase cap.
var ErrTooManyPhrases = errors.New("vocabulary phrase limit exceeded")

// Command is one registered voice command.
type Command struct {
	ID        string
	Canonical string
	Synonyms  []string
}

// Phrases returns the normalized canonical text followed by normalized synonyms.
func (c Command) Phrases() []string {
	return NormalizeAll(append([]string{c.Canonical}, c.Synonyms...))
}

func (c Command) validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("command id must not be empty")
	}
	if Normalize(c.Canonical) == "" {
		return fmt.Errorf("command %q has empty canonical text", c.ID)
	}
	return nil
}

// Snapshot is an immutable view of the vocabulary at one generation.
type Snapshot struct {
	Generation uint64
	Commands   map[string]Command
	// Phrases maps each normalized phrase to the id of the command that owns it.
	Phrases map[string]string
}

// Size is the number of distinct phrases in the authoritative vocabulary.
func (s Snapshot) Size() int { return len(s.Phrases) }

// PhraseList returns every phrase sorted.
func (s Snapshot) PhraseList() []string {
	out := make([]string, 0, len(s.Phrases))
	for phrase := range s.Phrases {
		out = append(out, phrase)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves a normalized phrase to its owning command.
func (s Snapshot) Lookup(phrase string) (Command, bool) {
	id, ok := s.Phrases[phrase]
	if !ok {
		return Command{}, false
	}
	cmd, ok := s.Commands[id]
	return cmd, ok
}

// Command returns the command registered under id.
func (s Snapshot) Command(id string) (Command, bool) {
	cmd, ok := s.Commands[id]
	return cmd, ok
}

// indexPhrases builds the phrase -> command id map. When two commands claim
// the same phrase the lexicographically smaller id owns it.
func indexPhrases(commands map[string]Command) map[string]string {
	index := make(map[string]string)
	for id, cmd := range commands {
		for _, phrase := range cmd.Phrases() {
			if owner, exists := index[phrase]; exists && owner < id {
				continue
			}
			index[phrase] = id
		}
	}
	return index
}

func bareCommand(phrase string) Command {
	return Command{ID: phrase, Canonical: phrase}
}
