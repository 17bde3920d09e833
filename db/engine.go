package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/nickyhof/BranchDB/registry"
)

const (
	DefaultEntityPrefix = "user/"
	ProfilePath         = "profile.json"
	ShowcaseDir         = "showcases"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidInput    = errors.New("invalid input")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,38}$`)

type Options struct {
	// EntityPrefix is prepended to a username to name its branch
	EntityPrefix string
	// ConflictRetries bounds re-read-and-retry on a stale hash. Zero
	// reports the first conflict to the caller.
	ConflictRetries int
	// PublicMaxAge is the staleness budget for public profile and showcase
	// reads. Zero reads fresh.
	PublicMaxAge time.Duration
}

// Engine implements profile, showcase and counter operations over
// per-user branches and keeps the registry in step as a side effect.
type Engine struct {
	docs     *ps.Documents
	registry *registry.Index
	identity core.Identity
	prefix   string
	retries  int
	maxAge   time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(docs *ps.Documents, index *registry.Index, identity core.Identity, opts Options, logger zerolog.Logger) *Engine {
	if opts.EntityPrefix == "" {
		opts.EntityPrefix = DefaultEntityPrefix
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	return &Engine{
		docs:     docs,
		registry: index,
		identity: identity,
		prefix:   opts.EntityPrefix,
		retries:  opts.ConflictRetries,
		maxAge:   opts.PublicMaxAge,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Branch returns the branch holding username's documents
func (engine *Engine) Branch(username string) string {
	return engine.prefix + username
}

func (engine *Engine) Registry() *registry.Index {
	return engine.registry
}

// ValidateUsername checks the username can name a branch
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

func (engine *Engine) change(ctx context.Context, format string, args ...any) ps.Change {
	author := engine.identity
	if identity, ok := IdentityFromContext(ctx); ok {
		author = identity
	}
	return ps.Change{Message: fmt.Sprintf(format, args...), Author: author}
}

func (engine *Engine) readOptions() []ps.ReadOption {
	if engine.maxAge > 0 {
		return []ps.ReadOption{ps.WithMaxAge(engine.maxAge)}
	}
	return nil
}

// registryFailed logs a registry side effect that did not land. The entity
// write has already succeeded and is not rolled back.
func (engine *Engine) registryFailed(op, username string, err error) {
	engine.logger.Warn().
		Str("op", op).
		Str("username", username).
		Err(err).
		Msg("registry update dropped; rebuild to resync")
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %s: %w", kind, name, ps.ErrNotFound)
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
