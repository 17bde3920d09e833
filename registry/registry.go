// Package registry maintains the denormalized user index: one JSON document
// on a dedicated branch summarizing every user branch.
//
// The index is a cache, not a ledger. Updates read fresh, apply a transform
// and write with the read hash, retrying a bounded number of times on
// conflict. An update that still loses is dropped and logged by the caller;
// Rebuild re-derives the whole index from the per-user branches.
package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

const (
	DefaultBranch  = "registry"
	DefaultPath    = "users.json"
	DefaultMaxAge  = 30 * time.Second
	DefaultRetries = 3
)

type Config struct {
	Branch  string
	Path    string
	MaxAge  time.Duration // Staleness budget for Get; zero reads fresh
	Retries int           // Conflict retries for Update
}

// Index reads and updates the registry document.
type Index struct {
	docs    *ps.Documents
	branch  string
	path    string
	maxAge  time.Duration
	retries int
	logger  zerolog.Logger
	now     func() time.Time

	ready atomic.Bool // registry branch known to exist
}

func New(docs *ps.Documents, cfg Config, logger zerolog.Logger) *Index {
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Index{
		docs:    docs,
		branch:  cfg.Branch,
		path:    cfg.Path,
		maxAge:  cfg.MaxAge,
		retries: cfg.Retries,
		logger:  logger,
		now:     time.Now,
	}
}

func (x *Index) Branch() string {
	return x.branch
}

func (x *Index) Path() string {
	return x.path
}

func emptyRegistry() core.Registry {
	return core.Registry{Entities: []core.RegistryEntry{}}
}

// Get returns the registry, possibly up to the configured staleness budget
// old. A missing or unreadable registry is empty.
func (x *Index) Get(ctx context.Context) (core.Registry, string, error) {
	return x.get(ctx, ps.WithMaxAge(x.maxAge))
}

// GetFresh bypasses the staleness budget
func (x *Index) GetFresh(ctx context.Context) (core.Registry, string, error) {
	return x.get(ctx, ps.Fresh())
}

func (x *Index) get(ctx context.Context, opt ps.ReadOption) (core.Registry, string, error) {
	reg, hash, err := ps.ReadJSON[core.Registry](ctx, x.docs, x.branch, x.path, opt)
	if err != nil {
		return emptyRegistry(), "", err
	}
	if reg == nil {
		return emptyRegistry(), "", nil
	}
	if reg.Entities == nil {
		reg.Entities = []core.RegistryEntry{}
	}
	return *reg, hash, nil
}

// Update applies fn to a fresh copy of the registry and writes the result.
// fn may return ps.ErrSkip to leave the registry untouched. The registry is
// shared, so writes always go out with the service token.
func (x *Index) Update(ctx context.Context, change ps.Change, fn func(*core.Registry) error) error {
	ctx = ps.WithoutToken(ctx)
	if err := x.ensureBranch(ctx); err != nil {
		return err
	}

	if change.Message == "" {
		change.Message = "Update registry"
	}

	_, _, err := ps.Update(ctx, x.docs, x.branch, x.path, x.retries, change, func(current *core.Registry) (*core.Registry, error) {
		next := emptyRegistry()
		if current != nil {
			next.Entities = append(next.Entities, current.Entities...)
			next.UpdatedAt = current.UpdatedAt
		}

		if err := fn(&next); err != nil {
			return nil, err
		}

		next.UpdatedAt = x.now().UTC()
		return &next, nil
	})
	return err
}

func (x *Index) ensureBranch(ctx context.Context) error {
	if x.ready.Load() {
		return nil
	}
	created, err := ps.EnsureBranch(ctx, x.docs.Store, x.branch)
	if err != nil {
		return err
	}
	if created {
		x.logger.Info().Str("branch", x.branch).Msg("created registry branch")
	}
	x.ready.Store(true)
	return nil
}

// EntryFromProfile derives the display fields of an entry from a profile
func EntryFromProfile(profile *core.Profile) core.RegistryEntry {
	displayName := profile.DisplayName
	if displayName == "" {
		displayName = profile.Username
	}
	return core.RegistryEntry{
		Username:    profile.Username,
		DisplayName: displayName,
		AvatarURL:   profile.AvatarURL,
		Bio:         profile.Bio,
		JoinedAt:    profile.CreatedAt,
		UpdatedAt:   profile.UpdatedAt,
	}
}

// Upsert adds the entry or replaces the existing one for the same user.
// A replaced entry keeps its original join time.
func (x *Index) Upsert(ctx context.Context, entry core.RegistryEntry) error {
	return x.Update(ctx, ps.Change{Message: "Register " + entry.Username}, func(reg *core.Registry) error {
		if i := reg.Find(entry.Username); i >= 0 {
			if !reg.Entities[i].JoinedAt.IsZero() {
				entry.JoinedAt = reg.Entities[i].JoinedAt
			}
			reg.Entities[i] = entry
			return nil
		}
		reg.Entities = append(reg.Entities, entry)
		return nil
	})
}

// Remove drops the user's entry; a missing entry is a no-op
func (x *Index) Remove(ctx context.Context, username string) error {
	return x.Update(ctx, ps.Change{Message: "Remove " + username}, func(reg *core.Registry) error {
		i := reg.Find(username)
		if i < 0 {
			return ps.ErrSkip
		}
		reg.Entities = append(reg.Entities[:i], reg.Entities[i+1:]...)
		return nil
	})
}

// SetCounts overwrites the showcase counters with values re-derived from
// the user's branch. Unknown users and unchanged counts are skipped.
func (x *Index) SetCounts(ctx context.Context, username string, total, published int) error {
	return x.Update(ctx, ps.Change{Message: "Refresh counts for " + username}, func(reg *core.Registry) error {
		i := reg.Find(username)
		if i < 0 {
			return ps.ErrSkip
		}
		entry := &reg.Entities[i]
		if entry.ShowcaseCount == total && entry.PublishedCount == published {
			return ps.ErrSkip
		}
		entry.ShowcaseCount = total
		entry.PublishedCount = published
		entry.UpdatedAt = x.now().UTC()
		return nil
	})
}

// SyncProfile copies a profile's display fields into its entry, creating
// the entry if it went missing
func (x *Index) SyncProfile(ctx context.Context, profile *core.Profile) error {
	fresh := EntryFromProfile(profile)
	return x.Update(ctx, ps.Change{Message: "Sync " + profile.Username}, func(reg *core.Registry) error {
		i := reg.Find(profile.Username)
		if i < 0 {
			reg.Entities = append(reg.Entities, fresh)
			return nil
		}
		entry := &reg.Entities[i]
		if entry.DisplayName == fresh.DisplayName && entry.AvatarURL == fresh.AvatarURL && entry.Bio == fresh.Bio {
			return ps.ErrSkip
		}
		entry.DisplayName = fresh.DisplayName
		entry.AvatarURL = fresh.AvatarURL
		entry.Bio = fresh.Bio
		entry.UpdatedAt = fresh.UpdatedAt
		return nil
	})
}
