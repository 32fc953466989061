/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package server exposes the catalog automation to the trusted API layer:
// queueing submissions, registering apps, triggering a bootstrap run, health
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"chainguard.dev/appcatalog/catalog"
	"chainguard.dev/appcatalog/jobs"
	"chainguard.dev/appcatalog/registry"
	"chainguard.dev/appcatalog/submission"
	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submitter queues submissions. *jobs.Queue[submission.Request] implements it.
type Submitter interface {
	Enqueue(ctx context.Context, req submission.Request) error
}

// Registrar registers apps. *registry.Registrar implements it.
type Registrar interface {
	Register(ctx context.Context, reg registry.Registration) (catalog.App, error)
}

// Trigger requests an out-of-schedule job run. *jobs.Scheduler implements it.
type Trigger interface {
	Trigger(name string) error
}

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server to the rest of the process.
type Options struct {
	Submissions Submitter
	Registrar   Registrar
	Jobs        Trigger
	// BootstrapJob is the scheduler name of the bootstrap job.
	BootstrapJob string
	// Health is pinged by /healthz when set.
	Health Pinger
}

// Server routes admin requests.
type Server struct {
	mux  *chi.Mux
	opts Options
}

// New returns a Server.
func New(opts Options) (*Server, error) {
	if opts.Submissions == nil || opts.Registrar == nil || opts.Jobs == nil {
		return nil, errors.New("submissions, registrar and jobs are required")
	}
	if opts.BootstrapJob == "" {
		return nil, errors.New("bootstrap job name cannot be empty")
	}

	s := &Server{mux: chi.NewRouter(), opts: opts}
	s.mux.Use(accessLog)
	s.mux.Get("/healthz", s.healthz)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.Post("/submissions", s.submit)
	s.mux.Post("/apps", s.register)
	s.mux.Post("/bootstrap", s.bootstrap)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type submissionRequest struct {
	AppID   string `json:"app_id"`
	Version string `json:"version"`
	UserID  string `json:"user_id"`
}

type registrationRequest struct {
	AppID         string `json:"app_id"`
	RepositoryURL string `json:"repository_url"`
	UserID        string `json:"user_id"`
	GitHubUserID  int64  `json:"github_user_id,omitempty"`
}

type appResponse struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	IsVerified bool   `json:"is_verified"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			writeJSON(r.Context(), w, http.StatusServiceUnavailable, statusResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var body submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if err := catalog.ValidateAppID(body.AppID); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	if body.Version == "" || body.UserID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, errors.New("version and user_id are required"))
		return
	}

	err := s.opts.Submissions.Enqueue(r.Context(), submission.Request{
		AppID:   body.AppID,
		Version: body.Version,
		UserID:  body.UserID,
	})
	switch {
	case errors.Is(err, jobs.ErrDuplicate):
		writeError(r.Context(), w, http.StatusConflict, err)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueStopped):
		writeError(r.Context(), w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, err)
	default:
		writeJSON(r.Context(), w, http.StatusAccepted, statusResponse{Status: "queued"})
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	app, err := s.opts.Registrar.Register(r.Context(), registry.Registration{
		AppID:         body.AppID,
		RepositoryURL: body.RepositoryURL,
		UserID:        body.UserID,
		GitHubUserID:  body.GitHubUserID,
	})
	switch {
	case errors.Is(err, catalog.ErrInvalidAppID),
		errors.Is(err, registry.ErrInvalidRepositoryURL),
		errors.Is(err, registry.ErrRDNNMismatch),
		errors.Is(err, registry.ErrMissingUser):
		writeError(r.Context(), w, http.StatusBadRequest, err)
	case errors.Is(err, catalog.ErrAlreadyRegistered):
		writeError(r.Context(), w, http.StatusConflict, err)
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, err)
	default:
		writeJSON(r.Context(), w, http.StatusCreated, appResponse{
			ID:         app.ID,
			Repository: app.Repository,
			IsVerified: app.IsVerified,
		})
	}
}

func (s *Server) bootstrap(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Jobs.Trigger(s.opts.BootstrapJob); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, statusResponse{Status: "triggered"})
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		clog.ErrorContextf(ctx, "Request failed: %v", err)
	}
	writeJSON(ctx, w, code, statusResponse{Status: "error", Error: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.WarnContextf(ctx, "Failed to write response: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLog logs one line per request with a request id attached.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := clog.FromContext(r.Context()).With("request_id", uuid.NewString())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Infof("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
