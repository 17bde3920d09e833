// Package github implements ps.Store over a hosted Git provider's REST API
// (GitHub-compatible contents, refs and git-object endpoints).
//
// Directory listings go through the contents endpoint, which returns at
// most 1000 entries per directory; ListFiles logs a warning when a listing
// reaches that cap. Branch enumeration uses matching-refs, which the host
// answers in one unpaginated response.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	mediaTypeJSON  = "application/vnd.github+json"
	mediaTypeRaw   = "application/vnd.github.raw+json"

	// Entries the contents endpoint returns for one directory
	contentsListingCap = 1000
)

// Config configures the REST backend.
type Config struct {
	BaseURL string
	Owner   string
	Repo    string

	// Tokens provides the long-lived service token. A token attached with
	// ps.WithToken takes precedence for that request.
	Tokens TokenSource

	// Committer is recorded on commits the backend creates itself
	// (branch bootstrap) and on writes whose Change has no author.
	Committer core.Identity

	Timeout      time.Duration
	Retries      int           // Attempts after the first for transient failures
	RetryBackoff time.Duration // Linear backoff step between attempts
	HTTPClient   *http.Client
}

// Store is the REST-backed ps.Store.
type Store struct {
	baseURL   string
	repoPath  string
	tokens    TokenSource
	committer core.Identity
	retries   int
	backoff   time.Duration
	client    *http.Client
	logger    zerolog.Logger
	listCap   int
}

var _ ps.Store = (*Store)(nil)

func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("github token source is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second // Set a default timeout to avoid hanging requests
		}
		client = &http.Client{Timeout: timeout}
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &Store{
		baseURL:   baseURL,
		repoPath:  "/repos/" + url.PathEscape(cfg.Owner) + "/" + url.PathEscape(cfg.Repo),
		tokens:    cfg.Tokens,
		committer: cfg.Committer,
		retries:   cfg.Retries,
		backoff:   backoff,
		client:    client,
		logger:    logger,
		listCap:   contentsListingCap,
	}, nil
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github api: status %d", e.Status)
	}
	return fmt.Sprintf("github api: status %d: %s", e.Status, e.Message)
}

// Is maps response statuses onto the ps error taxonomy
func (e *APIError) Is(target error) bool {
	switch target {
	case ps.ErrNotFound:
		return e.Status == http.StatusNotFound
	case ps.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ps.ErrConflict:
		return e.Status == http.StatusConflict || e.Status == http.StatusUnprocessableEntity
	case ps.ErrUnavailable:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	}
	return false
}

type request struct {
	method   string
	endpoint string // Relative to the repository, already escaped
	query    url.Values
	body     any
	accept   string
}

// do performs a request, retrying transient failures of reads. A write that
// failed transiently may still have landed, so it is returned to the caller
// as ps.ErrUnavailable. out may be nil, a *[]byte for the raw body, or a
// value to decode JSON into.
func (s *Store) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	token, err := s.token(ctx)
	if err != nil {
		return err
	}

	target := s.baseURL + s.repoPath + req.endpoint
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	requestID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		err = s.attempt(ctx, req, target, payload, token, requestID, out)
		if err == nil || !ps.IsTransient(err) || !idempotent(req.method) || attempt >= s.retries {
			return err
		}

		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", req.method).
			Str("endpoint", req.endpoint).
			Int("attempt", attempt+1).
			Err(err).
			Msg("retrying transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * s.backoff):
		}
	}
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func (s *Store) attempt(ctx context.Context, req request, target string, payload []byte, token, requestID string, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return err
	}

	accept := req.accept
	if accept == "" {
		accept = mediaTypeJSON
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("X-GitHub-Api-Version", apiVersion)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Request-Id", requestID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ps.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ps.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBytes, &apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message, RequestID: requestID}
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = respBytes
		return nil
	default:
		if err := json.Unmarshal(respBytes, dst); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}

func (s *Store) token(ctx context.Context) (string, error) {
	if token, ok := ps.TokenFromContext(ctx); ok {
		return token, nil
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ps.ErrUnauthorized, err)
	}
	return token, nil
}

// fail logs a failed operation and wraps it with context
func (s *Store) fail(op, branch, filePath string, err error) error {
	event := s.logger.Error()
	switch {
	case errors.Is(err, ps.ErrNotFound):
		event = s.logger.Debug()
	case errors.Is(err, ps.ErrConflict), errors.Is(err, ps.ErrBranchExists):
		event = s.logger.Warn()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		event = event.Int("status", apiErr.Status).Str("request_id", apiErr.RequestID)
	}

	event.Str("op", op).Str("branch", branch).Str("path", filePath).Err(err).Msg("github store operation failed")
	return ps.NewOpError(op, branch, filePath, err)
}

// escapePath escapes each segment of a slash-separated path
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toPerson(identity core.Identity) *person {
	if identity.IsZero() {
		return nil
	}
	return &person{Name: identity.Name, Email: identity.Email}
}
