package ps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrSkip returned from an Update transform leaves the document untouched.
var ErrSkip = errors.New("skip update")

// Documents is the JSON document layer over a Store.
type Documents struct {
	Store  Store
	Logger zerolog.Logger
}

func NewDocuments(store Store, logger zerolog.Logger) *Documents {
	return &Documents{Store: store, Logger: logger}
}

// ReadJSON reads and decodes the document at path.
// A missing or malformed document returns nil with an empty hash and no
// error; malformed documents are logged.
func ReadJSON[T any](ctx context.Context, docs *Documents, branch, path string, opts ...ReadOption) (*T, string, error) {
	value, hash, err := readJSON[T](ctx, docs, branch, path, opts...)
	if value == nil {
		return nil, "", err
	}
	return value, hash, err
}

// readJSON is ReadJSON but keeps the hash of a malformed document so an
// update can replace it.
func readJSON[T any](ctx context.Context, docs *Documents, branch, path string, opts ...ReadOption) (*T, string, error) {
	file, err := docs.Store.ReadFile(ctx, branch, path, opts...)
	if IsNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var value T
	if err := json.Unmarshal(file.Content, &value); err != nil {
		docs.Logger.Warn().
			Str("branch", branch).
			Str("path", path).
			Str("hash", file.Hash).
			Err(err).
			Msg("malformed document treated as missing")
		return nil, file.Hash, nil
	}

	return &value, file.Hash, nil
}

// WriteJSON encodes value and writes it with the hash from the last read.
// An empty hash creates the document.
func WriteJSON[T any](ctx context.Context, docs *Documents, branch, path string, value *T, hash string, change Change) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	return docs.Store.WriteFile(ctx, branch, path, data, hash, change)
}

// DeleteJSON deletes the document; hash must be current
func DeleteJSON(ctx context.Context, docs *Documents, branch, path, hash string, change Change) error {
	return docs.Store.DeleteFile(ctx, branch, path, hash, change)
}

// Update runs a read-modify-write cycle on one document. fn receives the
// current value, or nil when the document does not exist, and returns the
// value to write. Returning ErrSkip ends the cycle without writing.
//
// A write rejected with ErrConflict is retried from a fresh read up to
// retries times; with retries == 0 the conflict is returned to the caller.
func Update[T any](ctx context.Context, docs *Documents, branch, path string, retries int, change Change, fn func(current *T) (*T, error)) (*T, string, error) {
	for attempt := 0; ; attempt++ {
		current, hash, err := readJSON[T](ctx, docs, branch, path, Fresh())
		if err != nil {
			return nil, "", err
		}

		next, err := fn(current)
		if errors.Is(err, ErrSkip) {
			if current == nil {
				hash = ""
			}
			return current, hash, nil
		}
		if err != nil {
			return nil, "", err
		}

		newHash, err := WriteJSON(ctx, docs, branch, path, next, hash, change)
		if err == nil {
			return next, newHash, nil
		}
		if !IsConflict(err) || attempt >= retries {
			return nil, "", err
		}

		docs.Logger.Debug().
			Str("branch", branch).
			Str("path", path).
			Int("attempt", attempt+1).
			Msg("conflict on update, re-reading")
	}
}
