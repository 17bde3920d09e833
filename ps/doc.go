// Package ps provides the persistence layer for BranchDB.
//
// The Store interface is the branch/document contract: branches isolate
// entities, documents live at fixed paths inside a branch, and every read
// returns a content hash that the next write or delete of the same path must
// present. A stale hash is rejected with ErrConflict; this is the only
// concurrency control the layer has.
//
// # Git Store
//
// GitStore implements Store on a local repository with go-git:
//
//	store, err := ps.NewMemoryGitStore(zerolog.Nop())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Other backends live in ps/github, ps/s3store and ps/boltstore.
//
// # Mirroring and History
//
// A GitStore can push its branches to a remote and fetch them back, and
// lists the commits that touched a branch or document:
//
//	err = store.AddRemote(ctx, "origin", "https://git.example.com/data.git")
//	err = store.Push(ctx, "origin", "user/", &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: token})
//	commits, err := store.History(ctx, "user/alice", "profile.json", 10)
//
// # Branches
//
//	created, err := ps.EnsureBranch(ctx, store, "user/alice")
//
// # JSON Documents
//
//	docs := ps.NewDocuments(store, logger)
//	profile, hash, err := ps.ReadJSON[core.Profile](ctx, docs, "user/alice", "profile.json")
//	hash, err = ps.WriteJSON(ctx, docs, "user/alice", "profile.json", profile, hash, change)
//
// Update wraps the read-modify-write cycle and can retry conflicts from a
// fresh read.
package ps
