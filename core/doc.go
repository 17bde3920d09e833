// Package core provides core types used throughout BranchDB.
//
// The package defines the documents stored in entity branches (Profile,
// Showcase), the denormalized registry (Registry, RegistryEntry), and the
// Identity used as commit author.
//
// # Identity
//
// Identity identifies the author of a change (Git commit author):
//
//	identity := core.Identity{
//	    Name:  "John Doe",
//	    Email: "john@example.com",
//	}
//
// # Documents
//
// Each registered user owns one branch. Inside it:
//   - profile.json: the Profile document
//   - showcases/{slug}.json: one Showcase document per item
//
// The registry branch holds a single users.json document with one
// RegistryEntry per user. Registry counters mirror per-branch data and may
// lag behind it; the per-branch documents are authoritative.
package core
