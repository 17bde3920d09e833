package db

import (
	"context"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

// Counter increments are one read-modify-write round trip each. There is
// no batching, so bursts of tracking events serialize into sequential
// writes on the backend. Visitors bump counters on branches they do not own,
// so increments are always service writes.

// IncrementProfileViews adds one view to the profile and returns the total
func (engine *Engine) IncrementProfileViews(ctx context.Context, username string) (int, error) {
	if err := ValidateUsername(username); err != nil {
		return 0, err
	}
	ctx = asService(ctx)

	change := engine.change(ctx, "Count profile view for %s", username)
	profile, _, err := ps.Update(ctx, engine.docs, engine.Branch(username), ProfilePath, engine.retries, change, func(current *core.Profile) (*core.Profile, error) {
		if current == nil {
			return nil, notFound("profile", username)
		}
		current.Views++
		return current, nil
	})
	if err != nil {
		return 0, err
	}
	return profile.Views, nil
}

func (engine *Engine) IncrementShowcaseViews(ctx context.Context, username, slug string) (int, error) {
	showcase, err := engine.bumpShowcase(ctx, username, slug, "view", func(s *core.Showcase) { s.Views++ })
	if err != nil {
		return 0, err
	}
	return showcase.Views, nil
}

func (engine *Engine) IncrementShowcaseClicks(ctx context.Context, username, slug string) (int, error) {
	showcase, err := engine.bumpShowcase(ctx, username, slug, "click", func(s *core.Showcase) { s.Clicks++ })
	if err != nil {
		return 0, err
	}
	return showcase.Clicks, nil
}

func (engine *Engine) bumpShowcase(ctx context.Context, username, slug, kind string, bump func(*core.Showcase)) (*core.Showcase, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if !ValidSlug(slug) {
		return nil, notFound("showcase", slug)
	}
	ctx = asService(ctx)

	change := engine.change(ctx, "Count showcase %s for %s/%s", kind, username, slug)
	showcase, _, err := ps.Update(ctx, engine.docs, engine.Branch(username), showcasePath(slug), engine.retries, change, func(current *core.Showcase) (*core.Showcase, error) {
		if current == nil {
			return nil, notFound("showcase", slug)
		}
		bump(current)
		return current, nil
	})
	return showcase, err
}
