package ps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
)

var _ Store = (*GitStore)(nil)

// ReadFile reads a document from the branch head tree
func (p *GitStore) ReadFile(ctx context.Context, branch, filePath string, opts ...ReadOption) (File, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return File{}, err
	}

	cleaned, err := CleanPath(filePath)
	if err != nil {
		return File{}, p.fail("read", branch, filePath, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	_, commit, err := p.branchHead(branch)
	if err != nil {
		return File{}, p.fail("read", branch, cleaned, err)
	}

	file, err := p.lookupFile(commit, cleaned)
	if err != nil {
		return File{}, p.fail("read", branch, cleaned, err)
	}

	reader, err := file.Reader()
	if err != nil {
		return File{}, p.fail("read", branch, cleaned, fmt.Errorf("failed to open blob: %w", err))
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return File{}, p.fail("read", branch, cleaned, fmt.Errorf("failed to read contents: %w", err))
	}

	return File{
		Path:    cleaned,
		Content: content,
		Hash:    file.Hash.String(),
	}, nil
}

// WriteFile creates (empty hash) or updates (current hash) a document and
// commits the change on top of the branch head.
func (p *GitStore) WriteFile(ctx context.Context, branch, filePath string, content []byte, hash string, change Change) (string, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return "", err
	}

	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", p.fail("write", branch, filePath, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ref, commit, err := p.branchHead(branch)
	if err != nil {
		return "", p.fail("write", branch, cleaned, err)
	}

	current, err := p.lookupFile(commit, cleaned)
	switch {
	case errors.Is(err, ErrNotFound):
		if hash != "" {
			return "", p.fail("write", branch, cleaned, fmt.Errorf("%w: document no longer exists", ErrConflict))
		}
	case err != nil:
		return "", p.fail("write", branch, cleaned, err)
	case hash == "":
		return "", p.fail("write", branch, cleaned, fmt.Errorf("%w: document exists and no hash was supplied", ErrConflict))
	case current.Hash.String() != hash:
		return "", p.fail("write", branch, cleaned, fmt.Errorf("%w: expected %s, have %s", ErrConflict, hash, current.Hash))
	}

	blob, err := p.createBlob(content)
	if err != nil {
		return "", p.fail("write", branch, cleaned, err)
	}

	newTree, err := p.updateTreePath(commit.TreeHash, cleaned, blob)
	if err != nil {
		return "", p.fail("write", branch, cleaned, fmt.Errorf("failed to update tree: %w", err))
	}

	commitHash, err := p.createCommit(newTree, []plumbing.Hash{commit.Hash}, change)
	if err != nil {
		return "", p.fail("write", branch, cleaned, err)
	}

	if err := p.advanceBranch(ref, commitHash); err != nil {
		return "", p.fail("write", branch, cleaned, err)
	}

	return blob.String(), nil
}

// DeleteFile removes a document; hash must match the stored blob
func (p *GitStore) DeleteFile(ctx context.Context, branch, filePath, hash string, change Change) error {
	if err := p.ensureInitialized(ctx); err != nil {
		return err
	}

	cleaned, err := CleanPath(filePath)
	if err != nil {
		return p.fail("delete", branch, filePath, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ref, commit, err := p.branchHead(branch)
	if err != nil {
		return p.fail("delete", branch, cleaned, err)
	}

	current, err := p.lookupFile(commit, cleaned)
	if err != nil {
		return p.fail("delete", branch, cleaned, err)
	}
	if current.Hash.String() != hash {
		return p.fail("delete", branch, cleaned, fmt.Errorf("%w: expected %s, have %s", ErrConflict, hash, current.Hash))
	}

	newTree, err := p.deleteTreePath(commit.TreeHash, cleaned)
	if err != nil {
		return p.fail("delete", branch, cleaned, fmt.Errorf("failed to delete from tree: %w", err))
	}

	commitHash, err := p.createCommit(newTree, []plumbing.Hash{commit.Hash}, change)
	if err != nil {
		return p.fail("delete", branch, cleaned, err)
	}

	if err := p.advanceBranch(ref, commitHash); err != nil {
		return p.fail("delete", branch, cleaned, err)
	}

	return nil
}

// ListFiles lists directory entries from the branch head tree. A missing
// branch or directory yields an empty list.
func (p *GitStore) ListFiles(ctx context.Context, branch, dir string) ([]Entry, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	_, commit, err := p.branchHead(branch)
	if errors.Is(err, ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, p.fail("list", branch, dir, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, p.fail("list", branch, dir, fmt.Errorf("failed to get tree: %w", err))
	}

	dirPath := CleanDir(dir)
	targetTree := tree
	if dirPath != "" {
		targetTree, err = tree.Tree(dirPath)
		if err != nil {
			return []Entry{}, nil // Directory doesn't exist = empty
		}
	}

	entries := make([]Entry, 0, len(targetTree.Entries))
	for _, entry := range targetTree.Entries {
		entries = append(entries, Entry{
			Name:  entry.Name,
			Path:  path.Join(dirPath, entry.Name),
			Hash:  entry.Hash.String(),
			IsDir: entry.Mode == filemode.Dir,
		})
	}

	return entries, nil
}

// lookupFile finds a blob in the commit tree
func (p *GitStore) lookupFile(commit *object.Commit, filePath string) (*object.File, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	file, err := tree.File(filePath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}

	return file, nil
}
