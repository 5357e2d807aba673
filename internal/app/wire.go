package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/parlance/internal/catalog"
	"github.com/rbright/parlance/internal/config"
	"github.com/rbright/parlance/internal/engine"
	"github.com/rbright/parlance/internal/engine/openai"
	"github.com/rbright/parlance/internal/engine/textline"
	"github.com/rbright/parlance/internal/matcher"
	"github.com/rbright/parlance/internal/store"
	"github.com/rbright/parlance/internal/store/memory"
	"github.com/rbright/parlance/internal/store/sqlite"
	"github.com/rbright/parlance/internal/vocabulary"
)

// openStore selects the learning/cache backend named by cfg.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite, "":
		st, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// loadCatalog returns nil when no catalog is configured.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	return catalog.Load(path)
}

// buildEngines instantiates adapters in configured rotation order.
func buildEngines(cfg config.Config, stdin io.Reader, logger *slog.Logger) ([]engine.Adapter, error) {
	adapters := make([]engine.Adapter, 0, len(cfg.Engines.Order))
	for _, id := range cfg.Engines.Order {
		switch id {
		case config.EngineTextline:
			adapters = append(adapters, textline.New(textline.Options{
				Path:       cfg.Textline.Path,
				Input:      stdin,
				Confidence: cfg.Textline.Confidence,
				Logger:     logger,
			}))
		case config.EngineOpenAI:
			adapters = append(adapters, openai.New(openai.Options{
				APIKey:   cfg.OpenAI.APIKey,
				BaseURL:  cfg.OpenAI.BaseURL,
				Model:    cfg.OpenAI.Model,
				SpoolDir: cfg.OpenAI.SpoolDir,
				Poll:     time.Duration(cfg.OpenAI.PollMS) * time.Millisecond,
				Logger:   logger,
			}))
		default:
			return nil, fmt.Errorf("unknown engine %q", id)
		}
	}
	return adapters, nil
}

func fallbackOrder(cfg config.EnginesConfig) map[engine.ID][]engine.ID {
	if len(cfg.Fallback) == 0 {
		return nil
	}
	out := make(map[engine.ID][]engine.ID, len(cfg.Fallback))
	for id, chain := range cfg.Fallback {
		ids := make([]engine.ID, 0, len(chain))
		for _, target := range chain {
			ids = append(ids, engine.ID(target))
		}
		out[engine.ID(id)] = ids
	}
	return out
}

// seedVocabulary registers catalog commands and configured bare phrases.
func seedVocabulary(cat *catalog.Catalog, phrases []string, register func(...vocabulary.Command) error, add func([]string) error) error {
	if cmds := cat.Commands(); len(cmds) > 0 {
		if err := register(cmds...); err != nil {
			return fmt.Errorf("register catalog commands: %w", err)
		}
	}
	if len(phrases) > 0 {
		if err := add(phrases); err != nil {
			return fmt.Errorf("add configured phrases: %w", err)
		}
	}
	return nil
}

// offlineVocabulary builds the vocabulary snapshot `run` would start with.
func offlineVocabulary(cfg config.Config, cat *catalog.Catalog, logger *slog.Logger) (vocabulary.Snapshot, error) {
	mgr := vocabulary.NewManager(vocabulary.Options{
		Logger:     logger,
		Debounce:   -1,
		MaxPhrases: cfg.Vocabulary.MaxPhrases,
	})
	defer mgr.Close()

	if err := seedVocabulary(cat, cfg.Vocabulary.Phrases, mgr.Register, mgr.Add); err != nil {
		return vocabulary.Snapshot{}, err
	}
	return mgr.Snapshot(), nil
}

// readOnlyLearning serves learned/cache lookups without recording new
// learned matches.
type readOnlyLearning struct {
	store.Store
}

func (readOnlyLearning) RecordLearned(context.Context, string, matcher.Hit) error { return nil }

// offlineStore opens the persisted store for lookups only. A missing sqlite
// file is not created.
func offlineStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == config.StoreMemory {
		return nil, nil
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return readOnlyLearning{Store: st}, nil
}
