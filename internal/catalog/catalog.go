// Package catalog loads voice command definitions from YAML.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/vocabulary"
)

// Entry is one command as written in the catalog file.
type Entry struct {
	ID       string   `yaml:"id"`
	Phrase   string   `yaml:"phrase"`
	Synonyms []string `yaml:"synonyms"`
	Exec     string   `yaml:"exec"`

	// Argv is Exec split into arguments. Empty when Exec is unset.
	Argv []string `yaml:"-"`
}

// Catalog is a validated set of command entries keyed by id.
type Catalog struct {
	Path    string
	entries map[string]Entry
}

type document struct {
	Commands []Entry `yaml:"commands"`
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	cat, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", path, err)
	}
	cat.Path = path
	return cat, nil
}

// Parse decodes catalog YAML. Unknown keys and duplicate ids are rejected.
func Parse(content []byte) (*Catalog, error) {
	cat := &Catalog{entries: map[string]Entry{}}
	if len(bytes.TrimSpace(content)) == 0 {
		return cat, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	for i, entry := range doc.Commands {
		entry.ID = strings.TrimSpace(entry.ID)
		entry.Phrase = strings.TrimSpace(entry.Phrase)
		if entry.ID == "" {
			return nil, fmt.Errorf("commands[%d]: id must not be empty", i)
		}
		if vocabulary.Normalize(entry.Phrase) == "" {
			return nil, fmt.Errorf("command %q: phrase must not be empty", entry.ID)
		}
		if _, dup := cat.entries[entry.ID]; dup {
			return nil, fmt.Errorf("command %q defined more than once", entry.ID)
		}
		argv, err := config.ParseArgv(entry.Exec)
		if err != nil {
			return nil, fmt.Errorf("command %q: invalid exec: %w", entry.ID, err)
		}
		entry.Argv = argv
		cat.entries[entry.ID] = entry
	}
	return cat, nil
}

// Len returns the number of commands.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entry returns the command registered under id.
func (c *Catalog) Entry(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok := c.entries[id]
	return entry, ok
}

// Entries returns every command sorted by id.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Commands converts the catalog into vocabulary commands.
func (c *Catalog) Commands() []vocabulary.Command {
	entries := c.Entries()
	out := make([]vocabulary.Command, 0, len(entries))
	for _, entry := range entries {
		out = append(out, vocabulary.Command{
			ID:        entry.ID,
			Canonical: entry.Phrase,
			Synonyms:  append([]string(nil), entry.Synonyms...),
		})
	}
	return out
}
