// Package boltstore implements ps.Store on an embedded bbolt database for
// single-node deployments. Each branch is a nested bucket keyed by document
// path; read-write transactions serialize writers, so the hash check and the
// write commit together.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/nickyhof/BranchDB/ps"
)

var branchesBucket = []byte("branches")

type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

var _ ps.Store = (*Store)(nil)

// Open opens or creates the database file at path
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(branchesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bolt database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) fail(op, branch, filePath string, err error) error {
	event := s.logger.Error()
	switch {
	case errors.Is(err, ps.ErrNotFound):
		event = s.logger.Debug()
	case errors.Is(err, ps.ErrConflict), errors.Is(err, ps.ErrBranchExists):
		event = s.logger.Warn()
	}
	event.Str("op", op).Str("branch", branch).Str("path", filePath).Err(err).Msg("bolt store operation failed")
	return ps.NewOpError(op, branch, filePath, err)
}

func branchBucket(tx *bolt.Tx, branch string) *bolt.Bucket {
	return tx.Bucket(branchesBucket).Bucket([]byte(branch))
}

// lookup distinguishes a missing key from an empty value
func lookup(b *bolt.Bucket, key string) ([]byte, bool) {
	k, v := b.Cursor().Seek([]byte(key))
	if k == nil || string(k) != key {
		return nil, false
	}
	return v, true
}

func (s *Store) BranchExists(ctx context.Context, branch string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = branchBucket(tx, branch) != nil
		return nil
	})
	if err != nil {
		return false, s.fail("branch_exists", branch, "", err)
	}
	return exists, nil
}

func (s *Store) CreateOrphanBranch(ctx context.Context, branch string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(branchesBucket).CreateBucket([]byte(branch))
		if errors.Is(err, bolt.ErrBucketExists) {
			return ps.ErrBranchExists
		}
		if err != nil {
			return err
		}
		return b.Put([]byte(ps.PlaceholderFile), []byte{})
	})
	if err != nil {
		return s.fail("create_branch", branch, "", err)
	}

	s.logger.Debug().Str("branch", branch).Msg("created orphan branch")
	return nil
}

func (s *Store) ReadFile(ctx context.Context, branch, filePath string, opts ...ps.ReadOption) (ps.File, error) {
	if err := ctx.Err(); err != nil {
		return ps.File{}, err
	}

	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return ps.File{}, s.fail("read", branch, filePath, err)
	}

	var content []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		b := branchBucket(tx, branch)
		if b == nil {
			return ps.ErrNotFound
		}
		v, ok := lookup(b, cleaned)
		if !ok {
			return ps.ErrNotFound
		}
		content = bytes.Clone(v) // Only valid for the life of the transaction
		return nil
	})
	if err != nil {
		return ps.File{}, s.fail("read", branch, cleaned, err)
	}

	return ps.File{Path: cleaned, Content: content, Hash: ps.BlobHash(content)}, nil
}

func (s *Store) WriteFile(ctx context.Context, branch, filePath string, content []byte, hash string, change ps.Change) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return "", s.fail("write", branch, filePath, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := branchBucket(tx, branch)
		if b == nil {
			return fmt.Errorf("%w: branch %s", ps.ErrNotFound, branch)
		}

		current, exists := lookup(b, cleaned)
		switch {
		case !exists && hash != "":
			return fmt.Errorf("%w: document no longer exists", ps.ErrConflict)
		case exists && hash == "":
			return fmt.Errorf("%w: document exists and no hash was supplied", ps.ErrConflict)
		case exists && ps.BlobHash(current) != hash:
			return fmt.Errorf("%w: expected %s, have %s", ps.ErrConflict, hash, ps.BlobHash(current))
		}

		return b.Put([]byte(cleaned), content)
	})
	if err != nil {
		return "", s.fail("write", branch, cleaned, err)
	}

	s.logger.Debug().Str("branch", branch).Str("path", cleaned).Str("message", change.Message).Msg("wrote document")
	return ps.BlobHash(content), nil
}

func (s *Store) DeleteFile(ctx context.Context, branch, filePath, hash string, change ps.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return s.fail("delete", branch, filePath, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := branchBucket(tx, branch)
		if b == nil {
			return ps.ErrNotFound
		}
		current, ok := lookup(b, cleaned)
		if !ok {
			return ps.ErrNotFound
		}
		if have := ps.BlobHash(current); have != hash {
			return fmt.Errorf("%w: expected %s, have %s", ps.ErrConflict, hash, have)
		}
		return b.Delete([]byte(cleaned))
	})
	if err != nil {
		return s.fail("delete", branch, cleaned, err)
	}

	s.logger.Debug().Str("branch", branch).Str("path", cleaned).Str("message", change.Message).Msg("deleted document")
	return nil
}

// ListFiles derives the immediate children of dir from the flat key space
func (s *Store) ListFiles(ctx context.Context, branch, dir string) ([]ps.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cleaned := ps.CleanDir(dir)
	prefix := ""
	if cleaned != "" {
		prefix = cleaned + "/"
	}

	entries := []ps.Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := branchBucket(tx, branch)
		if b == nil {
			return nil
		}

		seenDirs := map[string]bool{}
		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, v = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				name := rest[:i]
				if !seenDirs[name] {
					seenDirs[name] = true
					entries = append(entries, ps.Entry{Name: name, Path: prefix + name, IsDir: true})
				}
				continue
			}
			entries = append(entries, ps.Entry{Name: rest, Path: string(k), Hash: ps.BlobHash(v)})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("list", branch, cleaned, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Store) ListBranches(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	branches := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(branchesBucket).ForEach(func(k, v []byte) error {
			// Nested buckets have a nil value
			if v == nil && strings.HasPrefix(string(k), prefix) {
				branches = append(branches, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("list_branches", prefix, "", err)
	}

	sort.Strings(branches)
	return branches, nil
}
