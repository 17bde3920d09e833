package github

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/nickyhof/BranchDB/registry"
)

func TestBranchLifecycle(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)
	ctx := context.Background()

	exists, err := store.BranchExists(ctx, "user/alice")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := ps.EnsureBranch(ctx, store, "user/alice")
	require.NoError(t, err)
	assert.True(t, created)

	exists, err = store.BranchExists(ctx, "user/alice")
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.CreateOrphanBranch(ctx, "user/alice")
	assert.ErrorIs(t, err, ps.ErrBranchExists)
	assert.ErrorIs(t, err, ps.ErrConflict)

	created, err = ps.EnsureBranch(ctx, store, "user/alice")
	require.NoError(t, err)
	assert.False(t, created)

	file, err := store.ReadFile(ctx, "user/alice", ps.PlaceholderFile)
	require.NoError(t, err)
	assert.Empty(t, file.Content)
}

func TestReadWriteDelete(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)
	ctx := context.Background()

	_, err := ps.EnsureBranch(ctx, store, "user/alice")
	require.NoError(t, err)

	_, err = store.ReadFile(ctx, "user/alice", "profile.json")
	assert.ErrorIs(t, err, ps.ErrNotFound)

	h1, err := store.WriteFile(ctx, "user/alice", "profile.json", []byte(`{"username":"alice"}`), "", ps.Change{Message: "Create profile"})
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	file, err := store.ReadFile(ctx, "user/alice", "profile.json")
	require.NoError(t, err)
	assert.Equal(t, `{"username":"alice"}`, string(file.Content))
	assert.Equal(t, h1, file.Hash)

	// Creating over an existing document needs its hash
	_, err = store.WriteFile(ctx, "user/alice", "profile.json", []byte(`{}`), "", ps.Change{})
	assert.ErrorIs(t, err, ps.ErrConflict)

	h2, err := store.WriteFile(ctx, "user/alice", "profile.json", []byte(`{"username":"alice","bio":"hi"}`), h1, ps.Change{})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	_, err = store.WriteFile(ctx, "user/alice", "profile.json", []byte(`{}`), h1, ps.Change{})
	assert.ErrorIs(t, err, ps.ErrConflict)

	err = store.DeleteFile(ctx, "user/alice", "profile.json", h1, ps.Change{})
	assert.ErrorIs(t, err, ps.ErrConflict)

	require.NoError(t, store.DeleteFile(ctx, "user/alice", "profile.json", h2, ps.Change{}))

	_, err = store.ReadFile(ctx, "user/alice", "profile.json")
	assert.ErrorIs(t, err, ps.ErrNotFound)

	err = store.DeleteFile(ctx, "user/alice", "profile.json", h2, ps.Change{})
	assert.ErrorIs(t, err, ps.ErrNotFound)
}

func TestReadLargeFileFallsBackToRaw(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)
	ctx := context.Background()

	_, err := ps.EnsureBranch(ctx, store, "registry")
	require.NoError(t, err)

	payload := strings.Repeat("x", 4096)
	hash, err := store.WriteFile(ctx, "registry", "big/blob.txt", []byte(payload), "", ps.Change{})
	require.NoError(t, err)

	file, err := store.ReadFile(ctx, "registry", "big/blob.txt")
	require.NoError(t, err)
	assert.Equal(t, payload, string(file.Content))
	assert.Equal(t, hash, file.Hash)
}

func TestReadDirectoryIsNotFound(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)
	ctx := context.Background()

	_, err := ps.EnsureBranch(ctx, store, "user/bob")
	require.NoError(t, err)
	_, err = store.WriteFile(ctx, "user/bob", "showcases/app.json", []byte(`{}`), "", ps.Change{})
	require.NoError(t, err)

	_, err = store.ReadFile(ctx, "user/bob", "showcases")
	assert.ErrorIs(t, err, ps.ErrNotFound)
}

func TestListFiles(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)
	ctx := context.Background()

	entries, err := store.ListFiles(ctx, "user/nobody", "showcases")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = ps.EnsureBranch(ctx, store, "user/carol")
	require.NoError(t, err)

	entries, err = store.ListFiles(ctx, "user/carol", "showcases")
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, name := range []string{"one.json", "two.json"} {
		_, err := store.WriteFile(ctx, "user/carol", "showcases/"+name, []byte(`{}`), "", ps.Change{})
		require.NoError(t, err)
	}

	entries, err = store.ListFiles(ctx, "user/carol", "showcases")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	names := []string{entries[0].Name, entries[1].Name}
	assert.ElementsMatch(t, []string{"one.json", "two.json"}, names)
	assert.Equal(t, "showcases/one.json", entries[0].Path)
	assert.False(t, entries[0].IsDir)

	// A file at the path lists as empty
	entries, err = store.ListFiles(ctx, "user/carol", "showcases/one.json")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListFilesWarnsAtHostCap(t *testing.T) {
	host := newFakeHost(t)
	ctx := context.Background()

	var logs bytes.Buffer
	store, err := New(Config{BaseURL: host.server.URL, Owner: "acme", Repo: "data", Tokens: StaticToken("service-token")}, zerolog.New(&logs))
	require.NoError(t, err)
	store.listCap = 2

	_, err = ps.EnsureBranch(ctx, store, "user/fay")
	require.NoError(t, err)
	_, err = store.WriteFile(ctx, "user/fay", "showcases/a.json", []byte(`{}`), "", ps.Change{})
	require.NoError(t, err)

	_, err = store.ListFiles(ctx, "user/fay", "showcases")
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "may be truncated")

	_, err = store.WriteFile(ctx, "user/fay", "showcases/b.json", []byte(`{}`), "", ps.Change{})
	require.NoError(t, err)

	entries, err := store.ListFiles(ctx, "user/fay", "showcases")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, logs.String(), "may be truncated")
}

func TestListBranches(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)
	ctx := context.Background()

	for _, b := range []string{"user/bob", "registry", "user/alice"} {
		_, err := ps.EnsureBranch(ctx, store, b)
		require.NoError(t, err)
	}

	branches, err := store.ListBranches(ctx, "user/")
	require.NoError(t, err)
	assert.Equal(t, []string{"user/alice", "user/bob"}, branches)

	branches, err = store.ListBranches(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"registry", "user/alice", "user/bob"}, branches)
}

func TestContextTokenOverridesServiceToken(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 0)

	_, err := store.BranchExists(context.Background(), "registry")
	require.NoError(t, err)
	assert.Equal(t, "service-token", host.seenToken)

	ctx := ps.WithToken(context.Background(), "user-token")
	_, err = store.BranchExists(ctx, "registry")
	require.NoError(t, err)
	assert.Equal(t, "user-token", host.seenToken)

	_, err = store.BranchExists(ps.WithoutToken(ctx), "registry")
	require.NoError(t, err)
	assert.Equal(t, "service-token", host.seenToken)

	ctx = ps.WithToken(context.Background(), "revoked")
	_, err = store.BranchExists(ctx, "registry")
	assert.ErrorIs(t, err, ps.ErrUnauthorized)
}

func TestMissingServiceToken(t *testing.T) {
	host := newFakeHost(t)
	store, err := New(Config{BaseURL: host.server.URL, Owner: "acme", Repo: "data", Tokens: StaticToken("")}, zerolog.Nop())
	require.NoError(t, err)

	_, err = store.BranchExists(context.Background(), "registry")
	assert.ErrorIs(t, err, ps.ErrUnauthorized)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	host := newFakeHost(t)

	host.failNext = 2
	_, err := host.store(t, 2).BranchExists(context.Background(), "registry")
	require.NoError(t, err)

	host.failNext = 1
	_, err = host.store(t, 0).BranchExists(context.Background(), "registry")
	assert.ErrorIs(t, err, ps.ErrUnavailable)
	assert.False(t, errors.Is(err, ps.ErrConflict))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestConflictIsNotRetried(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 3)
	ctx := context.Background()

	_, err := ps.EnsureBranch(ctx, store, "user/dave")
	require.NoError(t, err)
	_, err = store.WriteFile(ctx, "user/dave", "profile.json", []byte(`{}`), "", ps.Change{})
	require.NoError(t, err)

	before := host.requests
	_, err = store.WriteFile(ctx, "user/dave", "profile.json", []byte(`{}`), "", ps.Change{})
	assert.ErrorIs(t, err, ps.ErrConflict)
	assert.Equal(t, before+1, host.requests)
}

func TestWritesAreNotRetried(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 3)
	ctx := context.Background()

	_, err := ps.EnsureBranch(ctx, store, "user/erin")
	require.NoError(t, err)

	host.failNext = 1
	before := host.requests
	_, err = store.WriteFile(ctx, "user/erin", "showcases/app.json", []byte(`{"slug":"app"}`), "", ps.Change{})
	assert.ErrorIs(t, err, ps.ErrUnavailable)
	assert.False(t, errors.Is(err, ps.ErrConflict))

	// The failed PUT plus one read to check whether it landed
	assert.Equal(t, before+2, host.requests)

	entries, err := store.ListFiles(ctx, "user/erin", "showcases")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLostWriteResponseIsSettledByReading(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 3)
	ctx := context.Background()

	_, err := ps.EnsureBranch(ctx, store, "user/erin")
	require.NoError(t, err)

	content := []byte(`{"slug":"app"}`)
	host.lostWrite = 1
	hash, err := store.WriteFile(ctx, "user/erin", "showcases/app.json", content, "", ps.Change{})
	require.NoError(t, err)
	assert.Equal(t, ps.BlobHash(content), hash)

	entries, err := store.ListFiles(ctx, "user/erin", "showcases")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.json", entries[0].Name)

	// A lost delete response surfaces as unavailable, never as a conflict
	host.lostWrite = 1
	err = store.DeleteFile(ctx, "user/erin", "showcases/app.json", hash, ps.Change{})
	assert.ErrorIs(t, err, ps.ErrUnavailable)

	_, err = store.ReadFile(ctx, "user/erin", "showcases/app.json")
	assert.ErrorIs(t, err, ps.ErrNotFound)
}

func TestCreateShowcaseWithLostResponse(t *testing.T) {
	host := newFakeHost(t)
	store := host.store(t, 2)
	ctx := context.Background()

	docs := ps.NewDocuments(store, zerolog.Nop())
	engine := db.NewEngine(docs, registry.New(docs, registry.Config{}, zerolog.Nop()), core.Identity{Name: "svc"}, db.Options{}, zerolog.Nop())

	_, err := engine.RegisterUser(ctx, "alice", db.ProfileInput{})
	require.NoError(t, err)

	title := "My Cool App"
	host.lostWrite = 1
	showcase, err := engine.CreateShowcase(ctx, "alice", db.ShowcaseInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "my-cool-app", showcase.Slug)

	entries, err := store.ListFiles(ctx, "user/alice", db.ShowcaseDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one create must produce one document")
}

func TestNewRequiresRepository(t *testing.T) {
	_, err := New(Config{Tokens: StaticToken("x")}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Config{Owner: "acme", Repo: "data"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestAppTokenSource(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/app/installations/42/access_tokens" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer("1234"))
		if err != nil || !token.Valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      "ghs_installation",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer server.Close()

	source, err := NewAppTokenSource("1234", 42, keyPEM, server.URL, server.Client())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		token, err := source.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ghs_installation", token)
	}
	assert.Equal(t, int32(1), calls.Load())

	// Near expiry the token is refreshed
	source.now = func() time.Time { return time.Now().Add(time.Hour) }
	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ghs_installation", token)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAppTokenSourceRejectsBadKey(t *testing.T) {
	_, err := NewAppTokenSource("1234", 42, []byte("not a key"), "", nil)
	assert.Error(t, err)

	_, err = NewAppTokenSource("", 42, nil, "", nil)
	assert.Error(t, err)
}
