// Package main provides the HTTP JSON API server for BranchDB.
package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/ps"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type CounterResponse struct {
	Count int `json:"count"`
}

type ReorderRequest struct {
	Slugs []string `json:"slugs"`
}

type RebuildResponse struct {
	Entities int    `json:"entities"`
	Diff     string `json:"diff,omitempty"`
	DryRun   bool   `json:"dry_run"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps domain and store errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, ps.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ps.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ps.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ps.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, db.ErrInvalidUsername), errors.Is(err, db.ErrInvalidInput), errors.Is(err, ps.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
