// Package db provides the domain operations of BranchDB: user profiles,
// showcases and their counters, each user isolated on its own branch.
//
// The Engine type is the main entry point. It composes the document layer
// in package ps with the registry index, which it updates as a best-effort
// side effect after each entity write.
//
// # Engine Usage
//
//	engine := db.NewEngine(docs, index, identity, db.Options{}, logger)
//	profile, err := engine.RegisterUser(ctx, "alice", db.ProfileInput{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	showcase, err := engine.CreateShowcase(ctx, "alice", db.ShowcaseInput{Title: &title})
//
// # Layout
//
// A user's branch is the entity prefix plus the username ("user/alice"). It
// holds profile.json and one showcases/{slug}.json per showcase. The
// registry lives on its own branch.
//
// # Results
//
// Reads return nil for a missing user or document. Mutations of a missing
// document return an error matching ps.ErrNotFound. Stale writes return
// an error matching ps.ErrConflict once the configured retries are spent.
//
// Write authorship comes from WithIdentity on the context, falling back to
// the engine's identity; a user-delegated backend token is attached with
// ps.WithToken.
package db
