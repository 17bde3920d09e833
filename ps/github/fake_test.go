package github

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB/ps"
)

// fakeHost serves the subset of the REST API the store uses, backed by an
// in-memory git repository.
type fakeHost struct {
	t      *testing.T
	repo   *ps.GitStore
	server *httptest.Server
	tokens map[string]bool

	mu        sync.Mutex
	failNext  int
	lostWrite int // apply the next writes, then answer 502
	seenToken string
	requests  int
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()

	repo, err := ps.NewMemoryGitStore(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	h := &fakeHost{
		t:      t,
		repo:   repo,
		tokens: map[string]bool{"service-token": true, "user-token": true},
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/repos/{owner}/{repo}").Subrouter()
	api.Use(h.middleware)
	api.HandleFunc("/git/ref/heads/{branch:.+}", h.getRef).Methods(http.MethodGet)
	api.HandleFunc("/git/blobs", h.createObject).Methods(http.MethodPost)
	api.HandleFunc("/git/trees", h.createObject).Methods(http.MethodPost)
	api.HandleFunc("/git/commits", h.createObject).Methods(http.MethodPost)
	api.HandleFunc("/git/refs", h.createRef).Methods(http.MethodPost)
	api.HandleFunc("/git/matching-refs/heads", h.matchingRefs).Methods(http.MethodGet)
	api.HandleFunc("/git/matching-refs/heads/{prefix:.*}", h.matchingRefs).Methods(http.MethodGet)
	api.HandleFunc("/contents", h.getContents).Methods(http.MethodGet)
	api.HandleFunc("/contents/{path:.+}", h.getContents).Methods(http.MethodGet)
	api.HandleFunc("/contents/{path:.+}", h.putContents).Methods(http.MethodPut)
	api.HandleFunc("/contents/{path:.+}", h.deleteContents).Methods(http.MethodDelete)

	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHost) store(t *testing.T, retries int) *Store {
	t.Helper()
	s, err := New(Config{
		BaseURL:      h.server.URL,
		Owner:        "acme",
		Repo:         "data",
		Tokens:       StaticToken("service-token"),
		Retries:      retries,
		RetryBackoff: 1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func (h *fakeHost) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.requests++
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		h.seenToken = token
		fail := h.failNext > 0
		if fail {
			h.failNext--
		}
		h.mu.Unlock()

		if r.Header.Get("X-Request-Id") == "" {
			writeMessage(w, http.StatusBadRequest, "missing request id")
			return
		}
		if fail {
			writeMessage(w, http.StatusBadGateway, "upstream hiccup")
			return
		}
		if !h.tokens[token] {
			writeMessage(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loseResponse reports whether an applied write should be answered with a
// gateway error
func (h *fakeHost) loseResponse(w http.ResponseWriter) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lostWrite == 0 {
		return false
	}
	h.lostWrite--
	writeMessage(w, http.StatusBadGateway, "upstream timed out")
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeStoreError(w http.ResponseWriter, err error, missingSHA bool) {
	switch {
	case errors.Is(err, ps.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not Found")
	case errors.Is(err, ps.ErrConflict) && missingSHA:
		writeMessage(w, http.StatusUnprocessableEntity, `"sha" wasn't supplied.`)
	case errors.Is(err, ps.ErrConflict):
		writeMessage(w, http.StatusConflict, "sha does not match")
	default:
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *fakeHost) getRef(w http.ResponseWriter, r *http.Request) {
	branch := mux.Vars(r)["branch"]
	exists, err := h.repo.BranchExists(r.Context(), branch)
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	if !exists {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + branch, "object": map[string]string{"sha": "0"}})
}

func (h *fakeHost) createObject(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	n := h.requests
	h.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"sha": fmt.Sprintf("%040d", n)})
}

func (h *fakeHost) createRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SHA == "" {
		writeMessage(w, http.StatusBadRequest, "bad body")
		return
	}

	err := h.repo.CreateOrphanBranch(r.Context(), strings.TrimPrefix(body.Ref, "refs/heads/"))
	if errors.Is(err, ps.ErrBranchExists) {
		writeMessage(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ref": body.Ref})
}

func (h *fakeHost) matchingRefs(w http.ResponseWriter, r *http.Request) {
	branches, err := h.repo.ListBranches(r.Context(), mux.Vars(r)["prefix"])
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	refs := make([]map[string]string, 0, len(branches))
	for _, b := range branches {
		refs = append(refs, map[string]string{"ref": "refs/heads/" + b})
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *fakeHost) getContents(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("ref")
	p := mux.Vars(r)["path"]

	if r.Header.Get("Accept") == mediaTypeRaw {
		file, err := h.repo.ReadFile(r.Context(), branch, p)
		if err != nil {
			writeStoreError(w, err, false)
			return
		}
		w.Write(file.Content)
		return
	}

	if p != "" {
		file, err := h.repo.ReadFile(r.Context(), branch, p)
		if err == nil {
			encoding, content := "base64", base64.StdEncoding.EncodeToString(file.Content)
			if strings.HasPrefix(p, "big/") {
				encoding, content = "none", ""
			}
			writeJSON(w, http.StatusOK, contentResponse{
				Type: "file", Name: p[strings.LastIndex(p, "/")+1:], Path: file.Path,
				SHA: file.Hash, Encoding: encoding, Content: content,
			})
			return
		}
		if !errors.Is(err, ps.ErrNotFound) {
			writeStoreError(w, err, false)
			return
		}
	}

	entries, err := h.repo.ListFiles(r.Context(), branch, p)
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	if len(entries) == 0 {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}

	items := make([]contentResponse, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		items = append(items, contentResponse{Type: kind, Name: e.Name, Path: e.Path, SHA: e.Hash})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *fakeHost) putContents(w http.ResponseWriter, r *http.Request) {
	var body writeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad body")
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "bad content")
		return
	}

	change := ps.Change{Message: body.Message}
	if body.Author != nil {
		change.Author.Name, change.Author.Email = body.Author.Name, body.Author.Email
	}

	sha, err := h.repo.WriteFile(r.Context(), body.Branch, mux.Vars(r)["path"], content, body.SHA, change)
	if err != nil {
		writeStoreError(w, err, body.SHA == "")
		return
	}
	if h.loseResponse(w) {
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Content: contentResponse{Type: "file", SHA: sha}})
}

func (h *fakeHost) deleteContents(w http.ResponseWriter, r *http.Request) {
	var body writeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad body")
		return
	}
	if body.SHA == "" {
		writeMessage(w, http.StatusUnprocessableEntity, `"sha" wasn't supplied.`)
		return
	}

	err := h.repo.DeleteFile(r.Context(), body.Branch, mux.Vars(r)["path"], body.SHA, ps.Change{Message: body.Message})
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	if h.loseResponse(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commit": map[string]string{}})
}
