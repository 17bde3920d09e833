package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nickyhof/BranchDB/ps"
)

type contentResponse struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type writeResponse struct {
	Content contentResponse `json:"content"`
}

type writeRequest struct {
	Message   string  `json:"message"`
	Content   string  `json:"content,omitempty"`
	SHA       string  `json:"sha,omitempty"`
	Branch    string  `json:"branch"`
	Author    *person `json:"author,omitempty"`
	Committer *person `json:"committer,omitempty"`
}

func refQuery(branch string) url.Values {
	return url.Values{"ref": []string{branch}}
}

// ReadFile fetches a file through the contents endpoint. A missing branch,
// a missing file and a directory at the path all read as ps.ErrNotFound.
func (s *Store) ReadFile(ctx context.Context, branch, filePath string, opts ...ps.ReadOption) (ps.File, error) {
	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return ps.File{}, s.fail("read", branch, filePath, err)
	}

	endpoint := "/contents/" + escapePath(cleaned)

	var raw json.RawMessage
	err = s.do(ctx, request{method: http.MethodGet, endpoint: endpoint, query: refQuery(branch)}, &raw)
	if err != nil {
		return ps.File{}, s.fail("read", branch, cleaned, err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		return ps.File{}, s.fail("read", branch, cleaned, fmt.Errorf("%w: path is a directory", ps.ErrNotFound))
	}

	var content contentResponse
	if err := json.Unmarshal(raw, &content); err != nil {
		return ps.File{}, s.fail("read", branch, cleaned, fmt.Errorf("failed to decode contents: %w", err))
	}
	if content.Type != "file" {
		return ps.File{}, s.fail("read", branch, cleaned, fmt.Errorf("%w: path is a %s", ps.ErrNotFound, content.Type))
	}

	var data []byte
	switch content.Encoding {
	case "base64":
		data, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
		if err != nil {
			return ps.File{}, s.fail("read", branch, cleaned, fmt.Errorf("failed to decode content: %w", err))
		}
	default:
		// Large files come back without inline content
		err = s.do(ctx, request{method: http.MethodGet, endpoint: endpoint, query: refQuery(branch), accept: mediaTypeRaw}, &data)
		if err != nil {
			return ps.File{}, s.fail("read", branch, cleaned, err)
		}
	}

	return ps.File{Path: cleaned, Content: data, Hash: content.SHA}, nil
}

// WriteFile creates or updates a file with one commit. The host enforces
// the hash precondition: a stale sha is rejected with 409 and a missing sha
// for an existing file with 422, both reported as ps.ErrConflict.
func (s *Store) WriteFile(ctx context.Context, branch, filePath string, content []byte, hash string, change ps.Change) (string, error) {
	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return "", s.fail("write", branch, filePath, err)
	}

	message := change.Message
	if message == "" {
		message = "Update " + cleaned
	}

	body := writeRequest{
		Message:   message,
		Content:   base64.StdEncoding.EncodeToString(content),
		SHA:       hash,
		Branch:    branch,
		Author:    toPerson(change.Author),
		Committer: toPerson(s.committer),
	}

	var resp writeResponse
	err = s.do(ctx, request{method: http.MethodPut, endpoint: "/contents/" + escapePath(cleaned), body: body}, &resp)
	if ps.IsTransient(err) {
		if sha, ok := s.landed(ctx, branch, cleaned, content); ok {
			s.logger.Warn().Str("branch", branch).Str("path", cleaned).Err(err).Msg("write landed despite transient failure")
			return sha, nil
		}
	}
	if err != nil {
		return "", s.fail("write", branch, cleaned, err)
	}

	return resp.Content.SHA, nil
}

// landed reports whether the file at filePath now holds exactly content.
// It settles a write whose response was lost.
func (s *Store) landed(ctx context.Context, branch, filePath string, content []byte) (string, bool) {
	file, err := s.ReadFile(ctx, branch, filePath, ps.Fresh())
	if err != nil {
		return "", false
	}
	return file.Hash, file.Hash == ps.BlobHash(content)
}

// DeleteFile removes a file with one commit; hash must be current. A
// transient failure is not retried since the delete may have landed.
func (s *Store) DeleteFile(ctx context.Context, branch, filePath, hash string, change ps.Change) error {
	cleaned, err := ps.CleanPath(filePath)
	if err != nil {
		return s.fail("delete", branch, filePath, err)
	}

	message := change.Message
	if message == "" {
		message = "Delete " + cleaned
	}

	body := writeRequest{
		Message:   message,
		SHA:       hash,
		Branch:    branch,
		Author:    toPerson(change.Author),
		Committer: toPerson(s.committer),
	}

	err = s.do(ctx, request{method: http.MethodDelete, endpoint: "/contents/" + escapePath(cleaned), body: body}, nil)
	if err != nil {
		return s.fail("delete", branch, cleaned, err)
	}
	return nil
}

// ListFiles lists a directory. A missing branch or directory is empty.
// Listings are capped by the host; see the package documentation.
func (s *Store) ListFiles(ctx context.Context, branch, dir string) ([]ps.Entry, error) {
	cleaned := ps.CleanDir(dir)

	endpoint := "/contents"
	if cleaned != "" {
		endpoint += "/" + escapePath(cleaned)
	}

	var raw json.RawMessage
	err := s.do(ctx, request{method: http.MethodGet, endpoint: endpoint, query: refQuery(branch)}, &raw)
	if errors.Is(err, ps.ErrNotFound) {
		return []ps.Entry{}, nil
	}
	if err != nil {
		return nil, s.fail("list", branch, cleaned, err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		// A file sits at the path
		return []ps.Entry{}, nil
	}

	var items []contentResponse
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, s.fail("list", branch, cleaned, fmt.Errorf("failed to decode listing: %w", err))
	}

	if len(items) >= s.listCap {
		s.logger.Warn().
			Str("branch", branch).
			Str("path", cleaned).
			Int("entries", len(items)).
			Msg("directory listing reached the host cap and may be truncated")
	}

	entries := make([]ps.Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, ps.Entry{
			Name:  item.Name,
			Path:  item.Path,
			Hash:  item.SHA,
			IsDir: item.Type == "dir",
		})
	}
	return entries, nil
}
