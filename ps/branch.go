package ps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// BranchExists reports whether the branch ref exists
func (p *GitStore) BranchExists(ctx context.Context, branch string) (bool, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return false, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	_, err := p.repo.Storer.Reference(plumbing.NewBranchReferenceName(branch))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, p.fail("branch_exists", branch, "", err)
	}
	return true, nil
}

// CreateOrphanBranch creates a branch whose first commit has no parent.
// The tree holds a single placeholder blob.
func (p *GitStore) CreateOrphanBranch(ctx context.Context, branch string) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	refName := plumbing.NewBranchReferenceName(branch)
	if _, err := p.repo.Storer.Reference(refName); err == nil {
		return p.fail("create_branch", branch, "", ErrBranchExists)
	}

	blob, err := p.createBlob([]byte{})
	if err != nil {
		return p.fail("create_branch", branch, "", err)
	}

	tree, err := p.buildTreeFromEntries([]object.TreeEntry{{
		Name: PlaceholderFile,
		Mode: filemode.Regular,
		Hash: blob,
	}})
	if err != nil {
		return p.fail("create_branch", branch, "", err)
	}

	commit, err := p.createCommit(tree, nil, Change{Message: fmt.Sprintf("Initialize %s", branch)})
	if err != nil {
		return p.fail("create_branch", branch, "", err)
	}

	if err := p.repo.Storer.SetReference(plumbing.NewHashReference(refName, commit)); err != nil {
		return p.fail("create_branch", branch, "", err)
	}

	p.logger.Debug().Str("branch", branch).Str("commit", commit.String()).Msg("created orphan branch")
	return nil
}

// ListBranches returns all branch names starting with prefix, sorted
func (p *GitStore) ListBranches(ctx context.Context, prefix string) ([]string, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	refs, err := p.repo.Branches()
	if err != nil {
		return nil, p.fail("list_branches", prefix, "", fmt.Errorf("failed to list branches: %w", err))
	}

	branches := []string{}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
		return nil
	})
	if err != nil {
		return nil, p.fail("list_branches", prefix, "", fmt.Errorf("failed to iterate branches: %w", err))
	}

	sort.Strings(branches)
	return branches, nil
}

// EnsureBranch makes sure the branch exists, bootstrapping it with an orphan
// commit if absent. A concurrent caller that created the branch first is not
// an error: created is false and err is nil.
//
// A failed bootstrap may leave unreferenced objects behind. They are harmless
// and the next call attempts the whole sequence again.
func EnsureBranch(ctx context.Context, store Store, branch string) (created bool, err error) {
	exists, err := store.BranchExists(ctx, branch)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	err = store.CreateOrphanBranch(ctx, branch)
	if errors.Is(err, ErrBranchExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
