package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nickyhof/BranchDB/ps"
)

type shaResponse struct {
	SHA string `json:"sha"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// BranchExists reports whether refs/heads/{branch} exists
func (s *Store) BranchExists(ctx context.Context, branch string) (bool, error) {
	var ref refResponse
	err := s.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "/git/ref/heads/" + escapePath(branch),
	}, &ref)
	if errors.Is(err, ps.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("branch_exists", branch, "", err)
	}
	return true, nil
}

// CreateOrphanBranch bootstraps a parentless branch through the git-object
// endpoints: placeholder blob, tree, root commit, then the ref. The ref
// creation is the only step visible to readers; a failure before it leaves
// unreferenced objects the host garbage-collects.
func (s *Store) CreateOrphanBranch(ctx context.Context, branch string) error {
	var blob shaResponse
	err := s.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "/git/blobs",
		body:     map[string]string{"content": "", "encoding": "utf-8"},
	}, &blob)
	if err != nil {
		return s.fail("create_branch", branch, "", fmt.Errorf("failed to create placeholder blob: %w", err))
	}

	var tree shaResponse
	err = s.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "/git/trees",
		body: map[string]any{
			"tree": []treeEntry{{Path: ps.PlaceholderFile, Mode: "100644", Type: "blob", SHA: blob.SHA}},
		},
	}, &tree)
	if err != nil {
		return s.fail("create_branch", branch, "", fmt.Errorf("failed to create tree: %w", err))
	}

	commitBody := map[string]any{
		"message": fmt.Sprintf("Initialize %s", branch),
		"tree":    tree.SHA,
		"parents": []string{},
	}
	if author := toPerson(s.committer); author != nil {
		commitBody["author"] = author
	}

	var commit shaResponse
	err = s.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "/git/commits",
		body:     commitBody,
	}, &commit)
	if err != nil {
		return s.fail("create_branch", branch, "", fmt.Errorf("failed to create root commit: %w", err))
	}

	err = s.do(ctx, request{
		method:   http.MethodPost,
		endpoint: "/git/refs",
		body:     map[string]string{"ref": "refs/heads/" + branch, "sha": commit.SHA},
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
		return s.fail("create_branch", branch, "", ps.ErrBranchExists)
	}
	if err != nil {
		return s.fail("create_branch", branch, "", fmt.Errorf("failed to create ref: %w", err))
	}

	s.logger.Debug().Str("branch", branch).Str("commit", commit.SHA).Msg("created orphan branch")
	return nil
}

// ListBranches returns branch names starting with prefix, sorted
func (s *Store) ListBranches(ctx context.Context, prefix string) ([]string, error) {
	endpoint := "/git/matching-refs/heads"
	if prefix != "" {
		endpoint += "/" + escapePath(prefix)
	}

	var refs []refResponse
	if err := s.do(ctx, request{method: http.MethodGet, endpoint: endpoint}, &refs); err != nil {
		if errors.Is(err, ps.ErrNotFound) {
			return []string{}, nil
		}
		return nil, s.fail("list_branches", prefix, "", err)
	}

	branches := make([]string, 0, len(refs))
	for _, ref := range refs {
		name := strings.TrimPrefix(ref.Ref, "refs/heads/")
		if strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
	}
	sort.Strings(branches)
	return branches, nil
}
