package ps

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/nickyhof/BranchDB/core"
)

// PlaceholderFile seeds every orphan branch; version-control backends
// reject a commit with an entirely empty tree.
const PlaceholderFile = ".gitkeep"

// Store is the branch/document contract every backend implements.
//
// Content hashes are opaque. A hash returned by ReadFile or WriteFile must be
// passed to the next WriteFile or DeleteFile on the same path; a stale or
// missing hash is rejected with ErrConflict.
type Store interface {
	BranchExists(ctx context.Context, branch string) (bool, error)
	CreateOrphanBranch(ctx context.Context, branch string) error
	ReadFile(ctx context.Context, branch, filePath string, opts ...ReadOption) (File, error)
	WriteFile(ctx context.Context, branch, filePath string, content []byte, hash string, change Change) (string, error)
	DeleteFile(ctx context.Context, branch, filePath, hash string, change Change) error
	ListFiles(ctx context.Context, branch, dir string) ([]Entry, error)
	ListBranches(ctx context.Context, prefix string) ([]string, error)
}

// File is a document read from a branch
type File struct {
	Path    string
	Content []byte
	Hash    string
}

// Entry is one item of a directory listing
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	IsDir bool   `json:"is_dir"`
}

// Change describes the commit produced by a write or delete
type Change struct {
	Message string
	Author  core.Identity
}

// ReadOptions controls how a read may be served.
type ReadOptions struct {
	// MaxAge is the staleness budget. Zero forces a fresh read.
	MaxAge time.Duration
}

type ReadOption func(*ReadOptions)

// WithMaxAge allows the read to be served from a cache up to d old
func WithMaxAge(d time.Duration) ReadOption {
	return func(o *ReadOptions) {
		o.MaxAge = d
	}
}

// Fresh forces an uncached read, used for paths about to be mutated
func Fresh() ReadOption {
	return func(o *ReadOptions) {
		o.MaxAge = 0
	}
}

func ApplyReadOptions(opts []ReadOption) ReadOptions {
	var o ReadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type tokenKey struct{}

// WithToken attaches a user-delegated backend token to ctx. Backends that
// authenticate per request use it instead of their service token.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// WithoutToken drops a delegated token so calls with the returned context
// use the service token
func WithoutToken(ctx context.Context) context.Context {
	if _, ok := TokenFromContext(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, "")
}

// TokenFromContext returns the user-delegated token, if any
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// CleanPath normalizes a document path. Leading ".." segments are dropped
// by cleaning against the branch root.
func CleanPath(filePath string) (string, error) {
	p := strings.Trim(path.Clean("/"+filePath), "/")
	if p == "" || p == "." {
		return "", ErrInvalidPath
	}
	return p, nil
}

// CleanDir is CleanPath for directories, where the root is allowed
func CleanDir(dir string) string {
	p := strings.Trim(path.Clean("/"+dir), "/")
	if p == "." {
		return ""
	}
	return p
}
