package ps

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// createBlob creates a blob object directly in the object store without filesystem I/O
func (p *GitStore) createBlob(data []byte) (plumbing.Hash, error) {
	obj := p.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create blob writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob data: %w", err)
	}
	writer.Close()

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob: %w", err)
	}

	return hash, nil
}

// branchHead resolves a branch to its head reference and commit.
// Returns ErrNotFound if the branch does not exist.
func (p *GitStore) branchHead(branch string) (*plumbing.Reference, *object.Commit, error) {
	ref, err := p.repo.Storer.Reference(plumbing.NewBranchReferenceName(branch))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to resolve branch: %w", err)
	}

	commit, err := p.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get head commit: %w", err)
	}

	return ref, commit, nil
}

// getTreeEntries reads all entries from an existing tree, returning a map of name -> entry
func (p *GitStore) getTreeEntries(treeHash plumbing.Hash) (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)

	if treeHash == plumbing.ZeroHash {
		return entries, nil
	}

	tree, err := object.GetTree(p.repo.Storer, treeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	for _, entry := range tree.Entries {
		entries[entry.Name] = entry
	}

	return entries, nil
}

// buildTreeFromEntries creates a tree object from a list of entries
func (p *GitStore) buildTreeFromEntries(entries []object.TreeEntry) (plumbing.Hash, error) {
	// Sort entries by name (Git requirement)
	sort.Slice(entries, func(i, j int) bool {
		// Directories are sorted with trailing slash for comparison
		nameI := entries[i].Name
		nameJ := entries[j].Name
		if entries[i].Mode == filemode.Dir {
			nameI += "/"
		}
		if entries[j].Mode == filemode.Dir {
			nameJ += "/"
		}
		return nameI < nameJ
	})

	tree := &object.Tree{Entries: entries}

	obj := p.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}

	return hash, nil
}

func entrySlice(entries map[string]object.TreeEntry) []object.TreeEntry {
	result := make([]object.TreeEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry)
	}
	return result
}

// updateTreePath updates or creates a blob at the given path in the tree.
// Path can be nested like "showcases/my-app.json".
// Returns the new root tree hash.
func (p *GitStore) updateTreePath(rootTreeHash plumbing.Hash, filePath string, blobHash plumbing.Hash) (plumbing.Hash, error) {
	parts := strings.Split(filePath, "/")
	return p.updateTreePathRecursive(rootTreeHash, parts, blobHash)
}

func (p *GitStore) updateTreePathRecursive(treeHash plumbing.Hash, pathParts []string, blobHash plumbing.Hash) (plumbing.Hash, error) {
	if len(pathParts) == 0 {
		return plumbing.ZeroHash, fmt.Errorf("empty path")
	}

	entries, err := p.getTreeEntries(treeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	name := pathParts[0]

	if len(pathParts) == 1 {
		entries[name] = object.TreeEntry{
			Name: name,
			Mode: filemode.Regular,
			Hash: blobHash,
		}
	} else {
		subTreeHash := plumbing.ZeroHash
		if existing, ok := entries[name]; ok && existing.Mode == filemode.Dir {
			subTreeHash = existing.Hash
		}

		newSubTreeHash, err := p.updateTreePathRecursive(subTreeHash, pathParts[1:], blobHash)
		if err != nil {
			return plumbing.ZeroHash, err
		}

		entries[name] = object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: newSubTreeHash,
		}
	}

	return p.buildTreeFromEntries(entrySlice(entries))
}

// deleteTreePath removes a blob at the given path from the tree.
// Returns the new root tree hash, ZeroHash when the tree became empty.
func (p *GitStore) deleteTreePath(rootTreeHash plumbing.Hash, filePath string) (plumbing.Hash, error) {
	parts := strings.Split(filePath, "/")
	return p.deleteTreePathRecursive(rootTreeHash, parts)
}

func (p *GitStore) deleteTreePathRecursive(treeHash plumbing.Hash, pathParts []string) (plumbing.Hash, error) {
	if len(pathParts) == 0 {
		return plumbing.ZeroHash, fmt.Errorf("empty path")
	}

	entries, err := p.getTreeEntries(treeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	name := pathParts[0]

	if len(pathParts) == 1 {
		delete(entries, name)
	} else {
		existing, ok := entries[name]
		if !ok || existing.Mode != filemode.Dir {
			// Path doesn't exist, nothing to delete
			return treeHash, nil
		}

		newSubTreeHash, err := p.deleteTreePathRecursive(existing.Hash, pathParts[1:])
		if err != nil {
			return plumbing.ZeroHash, err
		}

		if newSubTreeHash == plumbing.ZeroHash {
			// Subtree is now empty, remove directory entry
			delete(entries, name)
		} else {
			entries[name] = object.TreeEntry{
				Name: name,
				Mode: filemode.Dir,
				Hash: newSubTreeHash,
			}
		}
	}

	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}

	return p.buildTreeFromEntries(entrySlice(entries))
}

// createCommit stores a commit object for treeHash. An empty parents slice
// produces an orphan commit.
func (p *GitStore) createCommit(treeHash plumbing.Hash, parents []plumbing.Hash, change Change) (plumbing.Hash, error) {
	// Handle empty tree case - create an actual empty tree object
	actualTreeHash := treeHash
	if treeHash == plumbing.ZeroHash {
		var err error
		actualTreeHash, err = p.buildTreeFromEntries([]object.TreeEntry{})
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to store empty tree: %w", err)
		}
	}

	author := change.Author
	if author.IsZero() {
		author = p.identity
	}

	sig := object.Signature{
		Name:  author.Name,
		Email: author.Email,
		When:  time.Now(),
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      commitMessage(change),
		TreeHash:     actualTreeHash,
		ParentHashes: parents,
	}

	obj := p.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}

	commitHash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store commit: %w", err)
	}

	return commitHash, nil
}

// advanceBranch moves the branch from old to commitHash. The update fails
// with ErrConflict if the branch no longer points at old.
func (p *GitStore) advanceBranch(old *plumbing.Reference, commitHash plumbing.Hash) error {
	ref := plumbing.NewHashReference(old.Name(), commitHash)
	if err := p.repo.Storer.CheckAndSetReference(ref, old); err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return nil
}

func commitMessage(change Change) string {
	if change.Message != "" {
		return change.Message
	}
	return "Update"
}

// BlobHash returns the Git object id content is stored under as a blob
func BlobHash(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
