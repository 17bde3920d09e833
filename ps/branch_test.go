package ps

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrphanBranch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exists, err := store.BranchExists(ctx, "user/alice")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateOrphanBranch(ctx, "user/alice"))

	exists, err = store.BranchExists(ctx, "user/alice")
	require.NoError(t, err)
	assert.True(t, exists)

	// The new branch holds only the placeholder
	entries, err := store.ListFiles(ctx, "user/alice", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PlaceholderFile, entries[0].Name)

	err = store.CreateOrphanBranch(ctx, "user/alice")
	assert.True(t, errors.Is(err, ErrBranchExists))
	assert.True(t, IsConflict(err))
}

func TestEnsureBranch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created, err := EnsureBranch(ctx, store, "registry")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureBranch(ctx, store, "registry")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureBranchConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	var createdCount atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := EnsureBranch(ctx, store, "user/bob")
			if err != nil {
				t.Errorf("EnsureBranch failed: %v", err)
				return
			}
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load())
}

func TestListBranches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, branch := range []string{"user/carol", "registry", "user/alice"} {
		require.NoError(t, store.CreateOrphanBranch(ctx, branch))
	}

	all, err := store.ListBranches(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"registry", "user/alice", "user/carol"}, all)

	users, err := store.ListBranches(ctx, "user/")
	require.NoError(t, err)
	assert.Equal(t, []string{"user/alice", "user/carol"}, users)

	none, err := store.ListBranches(ctx, "team/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBranchesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateOrphanBranch(ctx, "user/alice"))
	require.NoError(t, store.CreateOrphanBranch(ctx, "user/bob"))

	_, err := store.WriteFile(ctx, "user/alice", "profile.json", []byte(`{}`), "", Change{})
	require.NoError(t, err)

	_, err = store.ReadFile(ctx, "user/bob", "profile.json")
	assert.True(t, IsNotFound(err))
}
