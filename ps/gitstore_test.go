package ps

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBranch(t *testing.T, branch string) *GitStore {
	t.Helper()
	store := newTestStore(t)
	require.NoError(t, store.CreateOrphanBranch(context.Background(), branch))
	return store
}

func TestWriteAndReadFile(t *testing.T) {
	ctx := context.Background()
	store := newTestBranch(t, "main")

	content := []byte(`{"title":"Hello"}`)
	hash, err := store.WriteFile(ctx, "main", "showcases/hello.json", content, "", Change{Message: "Create hello"})
	require.NoError(t, err)
	assert.Equal(t, BlobHash(content), hash)

	file, err := store.ReadFile(ctx, "main", "/showcases/hello.json")
	require.NoError(t, err)
	assert.Equal(t, "showcases/hello.json", file.Path)
	assert.Equal(t, content, file.Content)
	assert.Equal(t, hash, file.Hash)
}

func TestWriteFileHashPreconditions(t *testing.T) {
	ctx := context.Background()
	store := newTestBranch(t, "main")

	first, err := store.WriteFile(ctx, "main", "doc.json", []byte(`{"v":1}`), "", Change{})
	require.NoError(t, err)

	// Creating over an existing document
	_, err = store.WriteFile(ctx, "main", "doc.json", []byte(`{"v":2}`), "", Change{})
	assert.True(t, IsConflict(err), "expected conflict, got %v", err)

	second, err := store.WriteFile(ctx, "main", "doc.json", []byte(`{"v":2}`), first, Change{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// Stale hash
	_, err = store.WriteFile(ctx, "main", "doc.json", []byte(`{"v":3}`), first, Change{})
	assert.True(t, IsConflict(err), "expected conflict, got %v", err)

	// Updating a document that does not exist
	_, err = store.WriteFile(ctx, "main", "missing.json", []byte(`{}`), first, Change{})
	assert.True(t, IsConflict(err), "expected conflict, got %v", err)

	file, err := store.ReadFile(ctx, "main", "doc.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(file.Content))
}

func TestWriteFileMissingBranch(t *testing.T) {
	store := newTestStore(t)

	_, err := store.WriteFile(context.Background(), "nope", "doc.json", []byte(`{}`), "", Change{})
	assert.True(t, IsNotFound(err))

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "write", opErr.Op)
	assert.Equal(t, "nope", opErr.Branch)
}

func TestReadFileNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestBranch(t, "main")

	_, err := store.ReadFile(ctx, "main", "missing.json")
	assert.True(t, IsNotFound(err))

	_, err = store.ReadFile(ctx, "other", "missing.json")
	assert.True(t, IsNotFound(err))

	_, err = store.ReadFile(ctx, "main", "/")
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	store := newTestBranch(t, "main")

	hash, err := store.WriteFile(ctx, "main", "showcases/a.json", []byte(`{}`), "", Change{})
	require.NoError(t, err)

	err = store.DeleteFile(ctx, "main", "showcases/a.json", "stale", Change{})
	assert.True(t, IsConflict(err))

	require.NoError(t, store.DeleteFile(ctx, "main", "showcases/a.json", hash, Change{Message: "Delete a"}))

	_, err = store.ReadFile(ctx, "main", "showcases/a.json")
	assert.True(t, IsNotFound(err))

	err = store.DeleteFile(ctx, "main", "showcases/a.json", hash, Change{})
	assert.True(t, IsNotFound(err))

	// The emptied directory disappears, the placeholder stays
	entries, err := store.ListFiles(ctx, "main", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PlaceholderFile, entries[0].Name)
}

func TestListFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestBranch(t, "main")

	for _, p := range []string{"profile.json", "showcases/b.json", "showcases/a.json"} {
		_, err := store.WriteFile(ctx, "main", p, []byte(`{}`), "", Change{})
		require.NoError(t, err)
	}

	root, err := store.ListFiles(ctx, "main", "/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, entry := range root {
		names[entry.Name] = entry.IsDir
	}
	assert.Equal(t, map[string]bool{PlaceholderFile: false, "profile.json": false, "showcases": true}, names)

	showcases, err := store.ListFiles(ctx, "main", "showcases/")
	require.NoError(t, err)
	require.Len(t, showcases, 2)
	assert.Equal(t, "showcases/a.json", showcases[0].Path)
	assert.Equal(t, BlobHash([]byte(`{}`)), showcases[0].Hash)

	missing, err := store.ListFiles(ctx, "main", "nothing")
	require.NoError(t, err)
	assert.Empty(t, missing)

	noBranch, err := store.ListFiles(ctx, "ghost", "")
	require.NoError(t, err)
	assert.Empty(t, noBranch)
}

func TestBlobHash(t *testing.T) {
	// git hash-object of an empty file
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", BlobHash(nil))
	// printf 'hello\n' | git hash-object --stdin
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", BlobHash([]byte("hello\n")))
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"profile.json", "profile.json", false},
		{"/showcases//a.json", "showcases/a.json", false},
		{"../../etc/passwd", "etc/passwd", false},
		{"", "", true},
		{"/", "", true},
	}

	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalidPath, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, "", CleanDir("/"))
	assert.Equal(t, "showcases", CleanDir("showcases/"))
}
