// Package memory provides an in-process learning and cache store.
package memory

import (
	"context"
	"sync"

	"github.com/rbright/parlance/internal/matcher"
	"github.com/rbright/parlance/internal/store"
)

// Store keeps entries in maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	learned map[string]matcher.Hit
	cache   map[string]matcher.Hit
}

// New returns an empty store.
func New() *Store {
	return &Store{learned: map[string]matcher.Hit{}, cache: map[string]matcher.Hit{}}
}

func (s *Store) LookupLearned(_ context.Context, text string) (matcher.Hit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hit, ok := s.learned[text]
	return hit, ok, nil
}

func (s *Store) RecordLearned(_ context.Context, text string, hit matcher.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learned[text] = hit
	return nil
}

func (s *Store) LookupCache(_ context.Context, text string) (matcher.Hit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hit, ok := s.cache[text]
	return hit, ok, nil
}

// StoreCache upserts entries. Existing entries are never removed.
func (s *Store) StoreCache(_ context.Context, entries map[string]matcher.Hit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phrase, hit := range entries {
		s.cache[phrase] = hit
	}
	return nil
}

func (s *Store) Stats(context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Stats{Learned: len(s.learned), Cached: len(s.cache)}, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
