package ps

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Count int `json:"count"`
}

func newTestDocs(t *testing.T, store Store) *Documents {
	t.Helper()
	require.NoError(t, store.CreateOrphanBranch(context.Background(), "main"))
	return NewDocuments(store, zerolog.Nop())
}

// interferingStore lets another writer bump the document before each of
// the first n writes
type interferingStore struct {
	Store
	n      int
	writes int
}

func (s *interferingStore) WriteFile(ctx context.Context, branch, filePath string, content []byte, hash string, change Change) (string, error) {
	s.writes++
	if s.n > 0 {
		s.n--
		file, err := s.Store.ReadFile(ctx, branch, filePath)
		if err == nil {
			if _, err := s.Store.WriteFile(ctx, branch, filePath, append(file.Content, ' '), file.Hash, change); err != nil {
				return "", err
			}
		}
	}
	return s.Store.WriteFile(ctx, branch, filePath, content, hash, change)
}

func TestReadJSONMissing(t *testing.T) {
	docs := newTestDocs(t, newTestStore(t))

	value, hash, err := ReadJSON[counter](context.Background(), docs, "main", "counter.json")
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Empty(t, hash)
}

func TestWriteAndReadJSON(t *testing.T) {
	ctx := context.Background()
	docs := newTestDocs(t, newTestStore(t))

	hash, err := WriteJSON(ctx, docs, "main", "counter.json", &counter{Count: 3}, "", Change{})
	require.NoError(t, err)

	file, err := docs.Store.ReadFile(ctx, "main", "counter.json")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"count\": 3\n}\n", string(file.Content))

	value, readHash, err := ReadJSON[counter](ctx, docs, "main", "counter.json")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, 3, value.Count)
	assert.Equal(t, hash, readHash)

	require.NoError(t, DeleteJSON(ctx, docs, "main", "counter.json", readHash, Change{}))
	value, _, err = ReadJSON[counter](ctx, docs, "main", "counter.json")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMalformedDocument(t *testing.T) {
	ctx := context.Background()
	docs := newTestDocs(t, newTestStore(t))

	_, err := docs.Store.WriteFile(ctx, "main", "counter.json", []byte("{not json"), "", Change{})
	require.NoError(t, err)

	value, hash, err := ReadJSON[counter](ctx, docs, "main", "counter.json")
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Empty(t, hash)

	// Update sees it as missing and can still replace it
	updated, _, err := Update(ctx, docs, "main", "counter.json", 0, Change{}, func(current *counter) (*counter, error) {
		assert.Nil(t, current)
		return &counter{Count: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Count)
}

func TestUpdateSkip(t *testing.T) {
	ctx := context.Background()
	docs := newTestDocs(t, newTestStore(t))

	value, hash, err := Update(ctx, docs, "main", "counter.json", 0, Change{}, func(current *counter) (*counter, error) {
		return nil, ErrSkip
	})
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Empty(t, hash)

	_, err = docs.Store.ReadFile(ctx, "main", "counter.json")
	assert.True(t, IsNotFound(err))
}

func TestUpdateTransformError(t *testing.T) {
	docs := newTestDocs(t, newTestStore(t))
	boom := errors.New("boom")

	_, _, err := Update(context.Background(), docs, "main", "counter.json", 3, Change{}, func(current *counter) (*counter, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUpdateRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	store := &interferingStore{Store: newTestStore(t)}
	docs := newTestDocs(t, store)

	_, err := WriteJSON(ctx, docs, "main", "counter.json", &counter{}, "", Change{})
	require.NoError(t, err)

	store.n, store.writes = 2, 0
	calls := 0
	value, _, err := Update(ctx, docs, "main", "counter.json", 2, Change{}, func(current *counter) (*counter, error) {
		calls++
		current.Count++
		return current, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, value.Count)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, store.writes)
}

func TestUpdateNoRetry(t *testing.T) {
	ctx := context.Background()
	store := &interferingStore{Store: newTestStore(t)}
	docs := newTestDocs(t, store)

	_, err := WriteJSON(ctx, docs, "main", "counter.json", &counter{}, "", Change{})
	require.NoError(t, err)

	store.n = 1
	_, _, err = Update(ctx, docs, "main", "counter.json", 0, Change{}, func(current *counter) (*counter, error) {
		current.Count++
		return current, nil
	})
	assert.True(t, IsConflict(err))
}
