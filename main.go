package BranchDB

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/cache"
	"github.com/nickyhof/BranchDB/config"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/nickyhof/BranchDB/ps/boltstore"
	"github.com/nickyhof/BranchDB/ps/github"
	"github.com/nickyhof/BranchDB/ps/s3store"
	"github.com/nickyhof/BranchDB/registry"
)

// Options tunes an Instance opened over an existing store.
type Options struct {
	Logger   zerolog.Logger
	Cache    cache.Cache // Nil disables read caching
	Registry registry.Config
	Engine   db.Options
	Identity core.Identity
}

type Instance struct {
	Store    ps.Store
	Docs     *ps.Documents
	Registry *registry.Index
	Identity core.Identity

	engineOptions db.Options
	logger        zerolog.Logger
	closers       []func() error
	git           *ps.GitStore
	mirrorAuth    *ps.RemoteAuth
}

const mirrorRemote = "origin"

// ErrNoMirror is returned by Push and Fetch on backends other than git
var ErrNoMirror = errors.New("mirroring requires the git backend")

func Open(store ps.Store, opts Options) *Instance {
	gitStore, _ := store.(*ps.GitStore)
	if opts.Cache != nil {
		store = cache.NewStore(store, opts.Cache)
	}

	docs := ps.NewDocuments(store, opts.Logger)
	return &Instance{
		Store:         store,
		Docs:          docs,
		Registry:      registry.New(docs, opts.Registry, opts.Logger),
		Identity:      opts.Identity,
		engineOptions: opts.Engine,
		logger:        opts.Logger,
		git:           gitStore,
	}
}

// GitStore returns the local repository when the backend is git
func (instance *Instance) GitStore() (*ps.GitStore, bool) {
	return instance.git, instance.git != nil
}

// Push mirrors branches starting with prefix to the configured remote
func (instance *Instance) Push(ctx context.Context, prefix string) error {
	if instance.git == nil {
		return ErrNoMirror
	}
	return instance.git.Push(ctx, mirrorRemote, prefix, instance.mirrorAuth)
}

// Fetch copies branches starting with prefix from the configured remote
func (instance *Instance) Fetch(ctx context.Context, prefix string) error {
	if instance.git == nil {
		return ErrNoMirror
	}
	return instance.git.Fetch(ctx, mirrorRemote, prefix, instance.mirrorAuth)
}

// Engine returns a domain engine that commits as identity by default
func (instance *Instance) Engine(identity core.Identity) *db.Engine {
	if identity.IsZero() {
		identity = instance.Identity
	}
	return db.NewEngine(instance.Docs, instance.Registry, identity, instance.engineOptions, instance.logger)
}

// Close releases backend and cache connections
func (instance *Instance) Close() error {
	var errs []error
	for i := len(instance.closers) - 1; i >= 0; i-- {
		if err := instance.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	instance.closers = nil
	return errors.Join(errs...)
}

// OpenConfig validates cfg and opens the configured backend and cache
func OpenConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	identity := core.Identity{Name: cfg.Identity.Name, Email: cfg.Identity.Email}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closer, err := openStore(ctx, cfg, identity, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	var readCache cache.Cache
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		readCache = cache.NewMemory()
	case config.CacheRedis:
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			Database: cfg.Cache.RedisDB,
		}, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to connect to redis cache: %w", err)
		}
		readCache = redisCache
		closers = append(closers, redisCache.Close)
	}

	instance := Open(store, Options{
		Logger: logger,
		Cache:  readCache,
		Registry: registry.Config{
			Branch:  cfg.Registry.Branch,
			Path:    cfg.Registry.Path,
			MaxAge:  cfg.Registry.MaxAge,
			Retries: cfg.Retries.Registry,
		},
		Engine: db.Options{
			EntityPrefix:    cfg.Entity.Prefix,
			ConflictRetries: cfg.Retries.Conflict,
			PublicMaxAge:    cfg.Entity.MaxAge,
		},
		Identity: identity,
	})
	instance.closers = closers
	if cfg.Git.RemoteToken != "" {
		instance.mirrorAuth = &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: cfg.Git.RemoteToken}
	}

	logger.Info().
		Str("backend", cfg.Backend).
		Str("cache", cfg.Cache.Backend).
		Str("registry", cfg.Registry.Branch+":"+cfg.Registry.Path).
		Msg("opened store")
	return instance, nil
}

func openStore(ctx context.Context, cfg *config.Config, identity core.Identity, logger zerolog.Logger) (ps.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendGit:
		var store *ps.GitStore
		var err error
		if cfg.Git.Dir == "" {
			store, err = ps.NewMemoryGitStore(logger)
		} else {
			store, err = ps.NewFileGitStore(cfg.Git.Dir, logger)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open git store: %w", err)
		}
		store.SetIdentity(identity)
		if cfg.Git.Remote != "" {
			if err := store.AddRemote(ctx, mirrorRemote, cfg.Git.Remote); err != nil {
				return nil, nil, err
			}
		}
		return store, nil, nil

	case config.BackendGitHub:
		tokens, err := tokenSource(cfg.GitHub)
		if err != nil {
			return nil, nil, err
		}
		store, err := github.New(github.Config{
			BaseURL:      cfg.GitHub.BaseURL,
			Owner:        cfg.GitHub.Owner,
			Repo:         cfg.GitHub.Repo,
			Tokens:       tokens,
			Committer:    identity,
			Timeout:      cfg.GitHub.Timeout,
			Retries:      cfg.Retries.Transient,
			RetryBackoff: cfg.Retries.Backoff,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open github store: %w", err)
		}
		return store, nil, nil

	case config.BackendS3:
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open s3 store: %w", err)
		}
		return store, nil, nil

	case config.BackendBolt:
		store, err := boltstore.Open(cfg.Bolt.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Backend)
}

func tokenSource(cfg config.GitHubConfig) (github.TokenSource, error) {
	if !cfg.UsesApp() {
		return github.StaticToken(cfg.Token), nil
	}

	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read github app key: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	source, err := github.NewAppTokenSource(cfg.AppID, cfg.InstallationID, key, cfg.BaseURL, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return source, nil
}
