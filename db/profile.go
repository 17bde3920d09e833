package db

import (
	"context"
	"fmt"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/nickyhof/BranchDB/registry"
)

// ProfileInput carries profile fields to set. Nil fields are left as they
// are on update and empty on registration.
type ProfileInput struct {
	DisplayName *string      `json:"display_name,omitempty"`
	Bio         *string      `json:"bio,omitempty"`
	AvatarURL   *string      `json:"avatar_url,omitempty"`
	Website     *string      `json:"website,omitempty"`
	Location    *string      `json:"location,omitempty"`
	Links       *[]core.Link `json:"links,omitempty"`
}

func (input ProfileInput) apply(profile *core.Profile) {
	if input.DisplayName != nil {
		profile.DisplayName = trimmed(input.DisplayName)
	}
	if input.Bio != nil {
		profile.Bio = trimmed(input.Bio)
	}
	if input.AvatarURL != nil {
		profile.AvatarURL = trimmed(input.AvatarURL)
	}
	if input.Website != nil {
		profile.Website = trimmed(input.Website)
	}
	if input.Location != nil {
		profile.Location = trimmed(input.Location)
	}
	if input.Links != nil {
		profile.Links = append([]core.Link{}, (*input.Links)...)
	}
}

// RegisterUser ensures the user's branch exists and creates its profile if
// absent. Registering an existing user returns the stored profile
// unchanged. The registry entry is refreshed either way.
func (engine *Engine) RegisterUser(ctx context.Context, username string, input ProfileInput) (*core.Profile, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	branch := engine.Branch(username)
	created, err := ps.EnsureBranch(ctx, engine.docs.Store, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure branch for %s: %w", username, err)
	}
	if created {
		engine.logger.Info().Str("username", username).Str("branch", branch).Msg("created user branch")
	}

	change := engine.change(ctx, "Create profile for %s", username)
	profile, _, err := ps.Update(ctx, engine.docs, branch, ProfilePath, engine.retries, change, func(current *core.Profile) (*core.Profile, error) {
		if current != nil {
			return nil, ps.ErrSkip
		}
		now := engine.now()
		profile := &core.Profile{Username: username, CreatedAt: now, UpdatedAt: now}
		input.apply(profile)
		return profile, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile for %s: %w", username, err)
	}

	entry := registry.EntryFromProfile(profile)
	if summary, err := engine.summarize(ctx, username); err == nil {
		entry.ShowcaseCount, entry.PublishedCount = summary.total, summary.published
	}
	if err := engine.registry.Upsert(ctx, entry); err != nil {
		engine.registryFailed("register", username, err)
	}

	return profile, nil
}

// GetProfile returns the user's profile, or nil when the user or the
// profile does not exist
func (engine *Engine) GetProfile(ctx context.Context, username string) (*core.Profile, error) {
	if ValidateUsername(username) != nil {
		return nil, nil
	}
	profile, _, err := ps.ReadJSON[core.Profile](ctx, engine.docs, engine.Branch(username), ProfilePath, engine.readOptions()...)
	return profile, err
}

// UpdateProfile applies input to the stored profile and syncs the
// registry's display fields
func (engine *Engine) UpdateProfile(ctx context.Context, username string, input ProfileInput) (*core.Profile, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	change := engine.change(ctx, "Update profile for %s", username)
	profile, _, err := ps.Update(ctx, engine.docs, engine.Branch(username), ProfilePath, engine.retries, change, func(current *core.Profile) (*core.Profile, error) {
		if current == nil {
			return nil, notFound("profile", username)
		}
		input.apply(current)
		current.UpdatedAt = engine.now()
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	if err := engine.registry.SyncProfile(ctx, profile); err != nil {
		engine.registryFailed("update_profile", username, err)
	}

	return profile, nil
}
