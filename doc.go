// Package BranchDB provides a JSON document database emulated on a
// version-control object store.
//
// Every user gets an independent branch holding their JSON documents. A
// single registry branch carries a denormalized index of all users.
// Concurrency is optimistic: every read returns a content hash and every
// write must present the hash it read, so a stale write is rejected rather
// than merged.
//
// # Quick Start
//
// Open an in-memory store and register a user:
//
//	store, _ := ps.NewMemoryGitStore(zerolog.Nop())
//	instance := BranchDB.Open(store, BranchDB.Options{})
//	engine := instance.Engine(core.Identity{Name: "App", Email: "app@example.com"})
//
//	engine.RegisterUser(ctx, "alice", db.ProfileInput{})
//	engine.CreateShowcase(ctx, "alice", db.ShowcaseInput{Title: &title})
//
// Or open the backend named in configuration:
//
//	cfg, _ := config.Load("branchdb.yaml")
//	instance, err := BranchDB.OpenConfig(ctx, cfg, logger)
//
// # Backends
//
//   - git: go-git repository, in memory or on disk
//   - github: hosted REST API (contents, refs and git-object endpoints)
//   - s3: S3-compatible bucket with conditional writes
//   - bolt: embedded bbolt file
//
// Reads may carry a staleness budget (ps.WithMaxAge) and are then served
// through the configured cache, in process or shared through Redis.
//
// # Packages
//
//   - ps: store contract, errors, branch bootstrap, JSON documents
//   - registry: the user index, search and rebuild
//   - db: profiles, showcases and counters
//   - cache: staleness-budget caching
//   - config, logger: ambient configuration and logging
package BranchDB
