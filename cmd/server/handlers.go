package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/registry"
)

func routeUsername(r *http.Request) string {
	return mux.Vars(r)["username"]
}

// fail responds with the status mapped from err
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondError(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, db.ErrInvalidInput
	}
	return n, nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	page, err := s.engine.ListProfiles(r.Context(), registry.Query{
		Text:   r.URL.Query().Get("q"),
		Sort:   r.URL.Query().Get("sort"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// handleRegister registers the session's own user
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())

	var input db.ProfileInput
	if err := decodeBody(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := s.engine.RegisterUser(delegate(r, session).Context(), session.Username, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	username := routeUsername(r)
	profile, err := s.engine.GetProfile(r.Context(), username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var input db.ProfileInput
	if err := decodeBody(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := s.engine.UpdateProfile(r.Context(), routeUsername(r), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleProfileView(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.IncrementProfileViews(r.Context(), routeUsername(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CounterResponse{Count: views})
}

// handleListShowcases hides drafts from everyone but the owner. The owner
// may still ask for published items only.
func (s *Server) handleListShowcases(w http.ResponseWriter, r *http.Request) {
	publishedOnly := !isOwner(r)
	if raw := r.URL.Query().Get("published"); raw != "" && !publishedOnly {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "published must be a boolean")
			return
		}
		publishedOnly = value
	}

	items, err := s.engine.ListShowcases(r.Context(), routeUsername(r), publishedOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetShowcase(w http.ResponseWriter, r *http.Request) {
	showcase, err := s.engine.GetShowcase(r.Context(), routeUsername(r), mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if showcase == nil || (!showcase.Published && !isOwner(r)) {
		respondError(w, http.StatusNotFound, "showcase not found")
		return
	}
	respondJSON(w, http.StatusOK, showcase)
}

func (s *Server) handleCreateShowcase(w http.ResponseWriter, r *http.Request) {
	var input db.ShowcaseInput
	if err := decodeBody(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	showcase, err := s.engine.CreateShowcase(r.Context(), routeUsername(r), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, showcase)
}

func (s *Server) handleUpdateShowcase(w http.ResponseWriter, r *http.Request) {
	var input db.ShowcaseInput
	if err := decodeBody(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	showcase, err := s.engine.UpdateShowcase(r.Context(), routeUsername(r), mux.Vars(r)["slug"], input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, showcase)
}

func (s *Server) handleDeleteShowcase(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteShowcase(r.Context(), routeUsername(r), mux.Vars(r)["slug"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items, err := s.engine.ReorderShowcases(r.Context(), routeUsername(r), req.Slugs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleShowcaseView(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.IncrementShowcaseViews(r.Context(), routeUsername(r), mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CounterResponse{Count: views})
}

func (s *Server) handleShowcaseClick(w http.ResponseWriter, r *http.Request) {
	clicks, err := s.engine.IncrementShowcaseClicks(r.Context(), routeUsername(r), mux.Vars(r)["slug"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CounterResponse{Count: clicks})
}

// handleRebuild regenerates the registry from user branches. With
// ?dry_run=true it only reports the difference.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	if !dryRun {
		rebuilt, err := s.engine.RebuildRegistry(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, RebuildResponse{Entities: len(rebuilt.Entities)})
		return
	}

	derived, err := s.engine.DeriveRegistry(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	current, _, err := s.engine.Registry().GetFresh(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	diff, err := registry.Diff(current, derived)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, RebuildResponse{Entities: len(derived.Entities), Diff: diff, DryRun: true})
}
