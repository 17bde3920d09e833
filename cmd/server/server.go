package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nickyhof/BranchDB"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
)

const shutdownTimeout = 10 * time.Second

// Server is an HTTP JSON server that exposes the BranchDB engine.
type Server struct {
	instance   *BranchDB.Instance
	engine     *db.Engine
	auth       AuthConfig
	logger     zerolog.Logger
	listener   net.Listener
	httpServer *http.Server
	done       chan error
}

// NewServer creates a new API server with the given BranchDB instance.
// Commits made without a session are authored as identity.
func NewServer(instance *BranchDB.Instance, identity core.Identity, auth AuthConfig, logger zerolog.Logger) *Server {
	return &Server{
		instance: instance,
		engine:   instance.Engine(identity),
		auth:     auth,
		logger:   logger,
	}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog, s.withSession)

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users", s.handleListUsers).Methods("GET")
	api.HandleFunc("/users", requireSession(s.handleRegister)).Methods("POST")
	api.HandleFunc("/users/{username}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{username}", requireOwner(s.handleUpdateUser)).Methods("PATCH")
	api.HandleFunc("/users/{username}/views", s.handleProfileView).Methods("POST")

	api.HandleFunc("/users/{username}/showcases", s.handleListShowcases).Methods("GET")
	api.HandleFunc("/users/{username}/showcases", requireOwner(s.handleCreateShowcase)).Methods("POST")
	api.HandleFunc("/users/{username}/showcases/order", requireOwner(s.handleReorder)).Methods("PUT")
	api.HandleFunc("/users/{username}/showcases/{slug}", s.handleGetShowcase).Methods("GET")
	api.HandleFunc("/users/{username}/showcases/{slug}", requireOwner(s.handleUpdateShowcase)).Methods("PATCH")
	api.HandleFunc("/users/{username}/showcases/{slug}", requireOwner(s.handleDeleteShowcase)).Methods("DELETE")
	api.HandleFunc("/users/{username}/showcases/{slug}/views", s.handleShowcaseView).Methods("POST")
	api.HandleFunc("/users/{username}/showcases/{slug}/clicks", s.handleShowcaseClick).Methods("POST")

	api.HandleFunc("/admin/registry/rebuild", requireAdmin(s.handleRebuild)).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start begins listening for requests on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan error, 1)

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("API server listening")

	go func() {
		err := s.httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		event := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("request_id", w.Header().Get("X-Request-Id")).
			Msg("request")
	})
}
