package cache

import (
	"context"

	"github.com/nickyhof/BranchDB/ps"
)

// Store decorates a ps.Store with read caching.
type Store struct {
	ps.Store
	cache Cache
}

var _ ps.Store = (*Store)(nil)

func NewStore(inner ps.Store, cache Cache) *Store {
	return &Store{Store: inner, cache: cache}
}

// ReadFile serves the read from the cache when a staleness budget is given
func (s *Store) ReadFile(ctx context.Context, branch, path string, opts ...ps.ReadOption) (ps.File, error) {
	options := ps.ApplyReadOptions(opts)
	if options.MaxAge <= 0 {
		return s.Store.ReadFile(ctx, branch, path, opts...)
	}

	k := s.key(branch, path)
	if entry, ok := s.cache.Get(ctx, k); ok {
		return ps.File{Path: path, Content: entry.Content, Hash: entry.Hash}, nil
	}

	file, err := s.Store.ReadFile(ctx, branch, path, opts...)
	if err != nil {
		return ps.File{}, err
	}

	s.cache.Set(ctx, k, Entry{Content: file.Content, Hash: file.Hash}, options.MaxAge)
	return file, nil
}

func (s *Store) WriteFile(ctx context.Context, branch, path string, content []byte, hash string, change ps.Change) (string, error) {
	newHash, err := s.Store.WriteFile(ctx, branch, path, content, hash, change)
	s.cache.Delete(ctx, s.key(branch, path))
	return newHash, err
}

func (s *Store) DeleteFile(ctx context.Context, branch, path, hash string, change ps.Change) error {
	err := s.Store.DeleteFile(ctx, branch, path, hash, change)
	s.cache.Delete(ctx, s.key(branch, path))
	return err
}

// key normalizes path so equivalent spellings share an entry
func (s *Store) key(branch, path string) string {
	if cleaned, err := ps.CleanPath(path); err == nil {
		path = cleaned
	}
	return key(branch, path)
}
