// Package cache serves reads within a staleness budget.
//
// Store wraps a ps.Store; reads carrying ps.WithMaxAge are answered from a
// Cache for up to that age, writes and deletes evict the path. Memory keeps
// entries in-process, Redis shares them between processes.
package cache

import (
	"context"
	"time"
)

// Entry is a cached document
type Entry struct {
	Content []byte `json:"content"`
	Hash    string `json:"hash"`
}

// Cache stores entries under string keys with a time-to-live.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

func key(branch, path string) string {
	return "branchdb:" + branch + ":" + path
}
