package db

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

// createAttempts bounds slug assignment when a concurrent create takes the
// chosen slug first. Nothing is overwritten by retrying, so this does not
// follow ConflictRetries.
const createAttempts = 5

// ShowcaseInput carries showcase fields to set; nil fields are untouched.
type ShowcaseInput struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	URL         *string   `json:"url,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Published   *bool     `json:"published,omitempty"`
}

func (input ShowcaseInput) apply(showcase *core.Showcase) {
	if input.Title != nil {
		showcase.Title = trimmed(input.Title)
	}
	if input.Description != nil {
		showcase.Description = trimmed(input.Description)
	}
	if input.URL != nil {
		showcase.URL = trimmed(input.URL)
	}
	if input.ImageURL != nil {
		showcase.ImageURL = trimmed(input.ImageURL)
	}
	if input.Tags != nil {
		tags := []string{}
		for _, tag := range *input.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		showcase.Tags = tags
	}
	if input.Published != nil {
		showcase.Published = *input.Published
	}
}

func showcasePath(slug string) string {
	return path.Join(ShowcaseDir, slug+".json")
}

// showcaseSet is a full listing of one user's showcase directory
type showcaseSet struct {
	items []core.Showcase
	slugs map[string]bool // includes unreadable documents
}

func (set showcaseSet) nextPosition() int {
	next := 0
	for _, item := range set.items {
		if item.Position >= next {
			next = item.Position + 1
		}
	}
	return next
}

type showcaseSummary struct {
	total     int
	published int
}

func sortShowcases(items []core.Showcase) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Slug < items[j].Slug
	})
}

// loadShowcases lists and reads every showcase in the user's branch
func (engine *Engine) loadShowcases(ctx context.Context, username string, opts ...ps.ReadOption) (showcaseSet, error) {
	branch := engine.Branch(username)
	set := showcaseSet{items: []core.Showcase{}, slugs: map[string]bool{}}

	entries, err := engine.docs.Store.ListFiles(ctx, branch, ShowcaseDir)
	if err != nil {
		return set, err
	}

	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		slug := strings.TrimSuffix(entry.Name, ".json")
		set.slugs[slug] = true

		showcase, _, err := ps.ReadJSON[core.Showcase](ctx, engine.docs, branch, showcasePath(slug), opts...)
		if err != nil {
			return set, err
		}
		if showcase == nil {
			continue
		}
		showcase.Slug = slug
		set.items = append(set.items, *showcase)
	}

	sortShowcases(set.items)
	return set, nil
}

// summarize re-derives the registry counters from the branch listing
func (engine *Engine) summarize(ctx context.Context, username string) (showcaseSummary, error) {
	set, err := engine.loadShowcases(ctx, username, ps.Fresh())
	if err != nil {
		return showcaseSummary{}, err
	}
	summary := showcaseSummary{total: len(set.items)}
	for _, item := range set.items {
		if item.Published {
			summary.published++
		}
	}
	return summary, nil
}

// refreshCounts recounts by re-listing rather than adjusting the stored
// counters, so earlier dropped updates heal
func (engine *Engine) refreshCounts(ctx context.Context, username string) {
	summary, err := engine.summarize(ctx, username)
	if err != nil {
		engine.registryFailed("refresh_counts", username, err)
		return
	}
	if err := engine.registry.SetCounts(ctx, username, summary.total, summary.published); err != nil {
		engine.registryFailed("refresh_counts", username, err)
	}
}

// ListShowcases returns the user's showcases ordered by position, then
// creation time. Backend failures other than bad credentials degrade to an
// empty list.
func (engine *Engine) ListShowcases(ctx context.Context, username string, publishedOnly bool) ([]core.Showcase, error) {
	if ValidateUsername(username) != nil {
		return []core.Showcase{}, nil
	}

	set, err := engine.loadShowcases(ctx, username, engine.readOptions()...)
	if errors.Is(err, ps.ErrUnauthorized) {
		return nil, err
	}
	if err != nil {
		engine.logger.Warn().Str("username", username).Err(err).Msg("showcase listing degraded to empty")
		return []core.Showcase{}, nil
	}

	if !publishedOnly {
		return set.items, nil
	}
	published := []core.Showcase{}
	for _, item := range set.items {
		if item.Published {
			published = append(published, item)
		}
	}
	return published, nil
}

// GetShowcase returns one showcase, or nil when it does not exist
func (engine *Engine) GetShowcase(ctx context.Context, username, slug string) (*core.Showcase, error) {
	if ValidateUsername(username) != nil || !ValidSlug(slug) {
		return nil, nil
	}
	showcase, _, err := ps.ReadJSON[core.Showcase](ctx, engine.docs, engine.Branch(username), showcasePath(slug), engine.readOptions()...)
	if showcase != nil {
		showcase.Slug = slug
	}
	return showcase, err
}

// CreateShowcase assigns a slug unique within the user's branch and the
// next sort position, then creates the document. Slug uniqueness comes from
// listing first; a concurrent create of the same slug loses the hash
// precondition and is retried with a fresh listing.
func (engine *Engine) CreateShowcase(ctx context.Context, username string, input ShowcaseInput) (*core.Showcase, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	title := trimmed(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	branch := engine.Branch(username)
	exists, err := engine.docs.Store.BranchExists(ctx, branch)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound("user", username)
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		set, err := engine.loadShowcases(ctx, username, ps.Fresh())
		if err != nil {
			return nil, fmt.Errorf("failed to list showcases for %s: %w", username, err)
		}

		now := engine.now()
		showcase := &core.Showcase{
			Slug:      UniqueSlug(Slugify(title), set.slugs),
			Position:  set.nextPosition(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		input.apply(showcase)
		showcase.Title = title

		change := engine.change(ctx, "Create showcase %s", showcase.Slug)
		_, err = ps.WriteJSON(ctx, engine.docs, branch, showcasePath(showcase.Slug), showcase, "", change)
		if err == nil {
			engine.refreshCounts(ctx, username)
			return showcase, nil
		}
		if !ps.IsConflict(err) {
			return nil, fmt.Errorf("failed to create showcase for %s: %w", username, err)
		}

		lastErr = err
		engine.logger.Debug().Str("username", username).Str("slug", showcase.Slug).Msg("slug taken concurrently, relisting")
	}

	return nil, lastErr
}

// UpdateShowcase applies input to the stored showcase. The slug stays the
// same when the title changes.
func (engine *Engine) UpdateShowcase(ctx context.Context, username, slug string, input ShowcaseInput) (*core.Showcase, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if !ValidSlug(slug) {
		return nil, notFound("showcase", slug)
	}
	if input.Title != nil && trimmed(input.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
	}

	change := engine.change(ctx, "Update showcase %s", slug)
	showcase, _, err := ps.Update(ctx, engine.docs, engine.Branch(username), showcasePath(slug), engine.retries, change, func(current *core.Showcase) (*core.Showcase, error) {
		if current == nil {
			return nil, notFound("showcase", slug)
		}
		input.apply(current)
		current.Slug = slug
		current.UpdatedAt = engine.now()
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	engine.refreshCounts(ctx, username)
	return showcase, nil
}

// DeleteShowcase deletes with the current hash and recounts the registry
// entry from the remaining listing
func (engine *Engine) DeleteShowcase(ctx context.Context, username, slug string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if !ValidSlug(slug) {
		return notFound("showcase", slug)
	}

	branch := engine.Branch(username)
	filePath := showcasePath(slug)
	change := engine.change(ctx, "Delete showcase %s", slug)

	for attempt := 0; ; attempt++ {
		file, err := engine.docs.Store.ReadFile(ctx, branch, filePath, ps.Fresh())
		if ps.IsNotFound(err) {
			return notFound("showcase", slug)
		}
		if err != nil {
			return err
		}

		err = ps.DeleteJSON(ctx, engine.docs, branch, filePath, file.Hash, change)
		if err == nil {
			break
		}
		if !ps.IsConflict(err) || attempt >= engine.retries {
			return err
		}
	}

	engine.refreshCounts(ctx, username)
	return nil
}

// ReorderShowcases moves the given slugs to the front in that order; the
// rest keep their relative order after them. Only documents whose position
// changes are written.
func (engine *Engine) ReorderShowcases(ctx context.Context, username string, slugs []string) ([]core.Showcase, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	set, err := engine.loadShowcases(ctx, username, ps.Fresh())
	if err != nil {
		return nil, err
	}

	bySlug := make(map[string]core.Showcase, len(set.items))
	for _, item := range set.items {
		bySlug[item.Slug] = item
	}

	order := make([]string, 0, len(set.items))
	seen := map[string]bool{}
	for _, slug := range slugs {
		if seen[slug] {
			return nil, fmt.Errorf("%w: duplicate slug %s", ErrInvalidInput, slug)
		}
		if _, ok := bySlug[slug]; !ok {
			return nil, notFound("showcase", slug)
		}
		seen[slug] = true
		order = append(order, slug)
	}
	for _, item := range set.items {
		if !seen[item.Slug] {
			order = append(order, item.Slug)
		}
	}

	for position, slug := range order {
		if bySlug[slug].Position == position {
			continue
		}
		change := engine.change(ctx, "Reorder showcase %s", slug)
		_, _, err := ps.Update(ctx, engine.docs, engine.Branch(username), showcasePath(slug), engine.retries, change, func(current *core.Showcase) (*core.Showcase, error) {
			if current == nil {
				return nil, notFound("showcase", slug)
			}
			if current.Position == position {
				return nil, ps.ErrSkip
			}
			current.Position = position
			return current, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reorder %s: %w", slug, err)
		}
	}

	set, err = engine.loadShowcases(ctx, username, ps.Fresh())
	if err != nil {
		return nil, err
	}
	return set.items, nil
}
