// Package sqlite persists learned mappings and the command cache in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/parlance/internal/matcher"
	"github.com/rbright/parlance/internal/store"
	"github.com/rbright/parlance/internal/store/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store implements store.Store on a single SQLite file.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens (creating if needed) the database at path and applies embedded
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LookupLearned resolves a transcript recorded by RecordLearned.
func (s *Store) LookupLearned(ctx context.Context, text string) (matcher.Hit, bool, error) {
	var hit matcher.Hit
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT command_id, phrase FROM learned_mappings WHERE transcript = ?`, text,
	).Scan(&hit.CommandID, &hit.Phrase)
	if errors.Is(err, sql.ErrNoRows) {
		return matcher.Hit{}, false, nil
	}
	if err != nil {
		return matcher.Hit{}, false, fmt.Errorf("lookup learned %q: %w", text, err)
	}
	return hit, true, nil
}

// RecordLearned upserts a transcript mapping and counts repeat hits.
func (s *Store) RecordLearned(ctx context.Context, text string, hit matcher.Hit) error {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(hit.CommandID) == "" {
		return fmt.Errorf("learned mapping requires transcript and command id")
	}
	now := s.now().UTC().UnixMilli()
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO learned_mappings (transcript, command_id, phrase, hits, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(transcript) DO UPDATE SET
		   command_id = excluded.command_id,
		   phrase = excluded.phrase,
		   hits = learned_mappings.hits + 1,
		   updated_at = excluded.updated_at`,
		text, hit.CommandID, hit.Phrase, now, now,
	)
	if err != nil {
		return fmt.Errorf("record learned %q: %w", text, err)
	}
	return nil
}

// LookupCache resolves a phrase from the cache index.
func (s *Store) LookupCache(ctx context.Context, text string) (matcher.Hit, bool, error) {
	hit := matcher.Hit{Phrase: text}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT command_id FROM command_cache WHERE phrase = ?`, text,
	).Scan(&hit.CommandID)
	if errors.Is(err, sql.ErrNoRows) {
		return matcher.Hit{}, false, nil
	}
	if err != nil {
		return matcher.Hit{}, false, fmt.Errorf("lookup cache %q: %w", text, err)
	}
	return hit, true, nil
}

// StoreCache upserts entries in one transaction. Entries are never deleted.
func (s *Store) StoreCache(ctx context.Context, entries map[string]matcher.Hit) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache update: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO command_cache (phrase, command_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(phrase) DO UPDATE SET command_id = excluded.command_id, updated_at = excluded.updated_at`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare cache update: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().UnixMilli()
	for phrase, hit := range entries {
		if _, err := stmt.ExecContext(ctx, phrase, hit.CommandID, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("cache %q: %w", phrase, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache update: %w", err)
	}
	return nil
}

// Stats counts rows in both tables.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM learned_mappings`).Scan(&stats.Learned); err != nil {
		return store.Stats{}, fmt.Errorf("count learned: %w", err)
	}
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM command_cache`).Scan(&stats.Cached); err != nil {
		return store.Stats{}, fmt.Errorf("count cache: %w", err)
	}
	return stats, nil
}

var _ store.Store = (*Store)(nil)
