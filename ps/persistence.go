package ps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/go-git/go-git/v6/storage/memory"
	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/core"
)

var (
	ErrNotInitialized = errors.New("persistence layer not initialized")
)

// GitStore implements Store on a local bare Git repository. Each branch is
// an independent history; documents are blobs reached through the branch
// head's tree. Ref updates are compare-and-swap, which gives the same
// optimistic concurrency a hosted backend provides.
type GitStore struct {
	repo     *git.Repository
	mu       sync.RWMutex // serializes ref updates, the backend's commit point
	identity core.Identity
	logger   zerolog.Logger
}

// IsInitialized returns true if the store has a valid repository
func (p *GitStore) IsInitialized() bool {
	return p != nil && p.repo != nil
}

// ensureInitialized checks if the store is initialized and the context is live
func (p *GitStore) ensureInitialized(ctx context.Context) error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	return ctx.Err()
}

// SetIdentity sets the committer used when a Change carries no author
func (p *GitStore) SetIdentity(identity core.Identity) {
	p.identity = identity
}

func NewMemoryGitStore(logger zerolog.Logger) (*GitStore, error) {
	repo, err := git.Init(memory.NewStorage())
	if err != nil {
		return nil, err
	}

	return &GitStore{
		repo:     repo,
		identity: defaultIdentity,
		logger:   logger,
	}, nil
}

// NewFileGitStore opens the bare repository at baseDir, creating it if needed.
func NewFileGitStore(baseDir string, logger zerolog.Logger) (*GitStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	fs := osfs.New(baseDir)
	storer := filesystem.NewStorageWithOptions(
		fs,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	var repo *git.Repository
	var err error

	if _, statErr := os.Stat(filepath.Join(baseDir, "HEAD")); statErr != nil {
		// Directory has no repository yet, initialize one
		repo, err = git.Init(storer)
	} else {
		repo, err = git.Open(storer, nil)
	}
	if err != nil {
		return nil, err
	}

	return &GitStore{
		repo:     repo,
		identity: defaultIdentity,
		logger:   logger,
	}, nil
}

var defaultIdentity = core.Identity{Name: "BranchDB", Email: "store@branchdb.local"}

// fail logs a failed operation and wraps it with context
func (p *GitStore) fail(op, branch, filePath string, err error) error {
	event := p.logger.Error()
	switch {
	case errors.Is(err, ErrNotFound):
		event = p.logger.Debug()
	case errors.Is(err, ErrConflict), errors.Is(err, ErrBranchExists):
		event = p.logger.Warn()
	}
	event.Str("op", op).Str("branch", branch).Str("path", filePath).Err(err).Msg("git store operation failed")
	return NewOpError(op, branch, filePath, err)
}
