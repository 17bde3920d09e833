package db

import (
	"context"
	"errors"
	"strings"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/nickyhof/BranchDB/registry"
)

var _ registry.Source = (*Engine)(nil)

// ListProfiles searches the registry. Results may be up to the registry's
// staleness budget old and its counters are best-effort. Backend failures
// other than bad credentials degrade to an empty page.
func (engine *Engine) ListProfiles(ctx context.Context, query registry.Query) (registry.Page, error) {
	reg, _, err := engine.registry.Get(ctx)
	if errors.Is(err, ps.ErrUnauthorized) {
		return registry.Page{Entries: []core.RegistryEntry{}}, err
	}
	if err != nil {
		engine.logger.Warn().Err(err).Msg("profile listing degraded to empty")
		return registry.Page{Entries: []core.RegistryEntry{}}, nil
	}
	return registry.Search(reg, query), nil
}

// RebuildRegistry re-derives every entry from the user branches and
// replaces the registry
func (engine *Engine) RebuildRegistry(ctx context.Context) (core.Registry, error) {
	return engine.registry.Rebuild(ctx, engine)
}

// DeriveRegistry computes what RebuildRegistry would write
func (engine *Engine) DeriveRegistry(ctx context.Context) (core.Registry, error) {
	return registry.Derive(ctx, engine)
}

// Usernames lists users by their branches
func (engine *Engine) Usernames(ctx context.Context) ([]string, error) {
	branches, err := engine.docs.Store.ListBranches(ctx, engine.prefix)
	if err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(branches))
	for _, branch := range branches {
		username := strings.TrimPrefix(branch, engine.prefix)
		if ValidateUsername(username) == nil {
			usernames = append(usernames, username)
		}
	}
	return usernames, nil
}

// Entry derives a registry entry from the user's branch; a branch without
// a profile yields nil
func (engine *Engine) Entry(ctx context.Context, username string) (*core.RegistryEntry, error) {
	profile, _, err := ps.ReadJSON[core.Profile](ctx, engine.docs, engine.Branch(username), ProfilePath, ps.Fresh())
	if err != nil || profile == nil {
		return nil, err
	}

	summary, err := engine.summarize(ctx, username)
	if err != nil {
		return nil, err
	}

	entry := registry.EntryFromProfile(profile)
	entry.ShowcaseCount = summary.total
	entry.PublishedCount = summary.published
	return &entry, nil
}
