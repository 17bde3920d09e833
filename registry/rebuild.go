package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

// Source re-derives registry entries from per-user branches.
type Source interface {
	// Usernames lists every user that has a branch
	Usernames(ctx context.Context) ([]string, error)
	// Entry derives one user's entry, or nil when the branch has no profile
	Entry(ctx context.Context, username string) (*core.RegistryEntry, error)
}

// Derive builds a registry from source without writing it
func Derive(ctx context.Context, source Source) (core.Registry, error) {
	usernames, err := source.Usernames(ctx)
	if err != nil {
		return core.Registry{}, fmt.Errorf("failed to list users: %w", err)
	}

	reg := emptyRegistry()
	for _, username := range usernames {
		if err := ctx.Err(); err != nil {
			return core.Registry{}, err
		}

		entry, err := source.Entry(ctx, username)
		if err != nil {
			return core.Registry{}, fmt.Errorf("failed to derive entry for %s: %w", username, err)
		}
		if entry == nil {
			continue
		}
		reg.Entities = append(reg.Entities, *entry)
	}

	sort.Slice(reg.Entities, func(i, j int) bool {
		return reg.Entities[i].Username < reg.Entities[j].Username
	})
	return reg, nil
}

// Rebuild replaces the registry with one derived from source and returns
// it. Entries for users without a profile are dropped.
func (x *Index) Rebuild(ctx context.Context, source Source) (core.Registry, error) {
	derived, err := Derive(ctx, source)
	if err != nil {
		return core.Registry{}, err
	}

	err = x.Update(ctx, ps.Change{Message: "Rebuild registry"}, func(reg *core.Registry) error {
		reg.Entities = append([]core.RegistryEntry{}, derived.Entities...)
		return nil
	})
	if err != nil {
		return core.Registry{}, fmt.Errorf("failed to write rebuilt registry: %w", err)
	}

	x.logger.Info().Int("entities", len(derived.Entities)).Msg("rebuilt registry")
	derived.UpdatedAt = x.now().UTC()
	return derived, nil
}
