package ps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/storer"
)

// Commit summarizes one change on a branch
type Commit struct {
	Id      string    `json:"id"`
	When    time.Time `json:"when"`
	Author  string    `json:"author"` // "Name <email>" format
	Message string    `json:"message"`
}

func (commit Commit) String() string {
	return fmt.Sprintf("Commit{Id: %s, When: %s, Author: %s}", commit.Id, commit.When, commit.Author)
}

func toCommit(c *object.Commit) Commit {
	author := ""
	if c.Author.Name != "" || c.Author.Email != "" {
		author = fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
	}
	return Commit{
		Id:      c.Hash.String(),
		When:    c.Committer.When,
		Author:  author,
		Message: c.Message,
	}
}

// History lists the commits on branch, newest first. A non-empty filePath
// keeps only commits that changed that document. limit <= 0 means all.
func (p *GitStore) History(ctx context.Context, branch, filePath string, limit int) ([]Commit, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	opts := &git.LogOptions{}
	if filePath != "" {
		cleaned, err := CleanPath(filePath)
		if err != nil {
			return nil, p.fail("history", branch, filePath, err)
		}
		opts.FileName = &cleaned
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	ref, _, err := p.branchHead(branch)
	if err != nil {
		return nil, p.fail("history", branch, filePath, err)
	}
	opts.From = ref.Hash()

	iter, err := p.repo.Log(opts)
	if err != nil {
		return nil, p.fail("history", branch, filePath, fmt.Errorf("failed to read log: %w", err))
	}
	defer iter.Close()

	commits := []Commit{}
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}
		commits = append(commits, toCommit(c))
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, p.fail("history", branch, filePath, err)
	}

	return commits, nil
}

// LatestCommit returns the head commit of branch
func (p *GitStore) LatestCommit(ctx context.Context, branch string) (Commit, error) {
	commits, err := p.History(ctx, branch, "", 1)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) == 0 {
		return Commit{}, p.fail("history", branch, "", ErrNotFound)
	}
	return commits[0], nil
}
