// Package store defines the persistence contract shared by the learning and
// cache collaborators.
package store

import (
	"context"
	"io"

	"github.com/rbright/parlance/internal/matcher"
)

// Stats counts persisted entries.
type Stats struct {
	Learned int `json:"learned"`
	Cached  int `json:"cached"`
}

// Store backs both the learned-match tier and the cache fallback tier.
type Store interface {
	matcher.LearnedStore
	matcher.CacheStore
	StoreCache(ctx context.Context, entries map[string]matcher.Hit) error
	Stats(ctx context.Context) (Stats, error)
	io.Closer
}
