package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusReporter answers run completeness queries.
type StatusReporter interface {
	Runs(ctx context.Context) ([]domain.RunStatus, error)
	Missing(ctx context.Context, run time.Time) ([]int, error)
}

// ReadinessGroup is ready when every member is.
type ReadinessGroup []sharedobs.ReadinessChecker

// CheckReadiness implements sharedobs.ReadinessChecker.
func (g ReadinessGroup) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range g {
		if err := c.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Server exposes health, readiness, metrics and run status endpoints.
type Server struct {
	httpServer *http.Server
	status     StatusReporter
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1/runs status routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, status StatusReporter, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		status: status,
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", s.handleRuns)
		r.Get("/{run}/missing", s.handleMissing)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type runView struct {
	Run string `json:"run"`
	domain.RunStatus
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.status.Runs(r.Context())
	if err != nil {
		s.logger.Error("list run status", "error", err)
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]runView, len(runs))
	for i, st := range runs {
		out[i] = runView{Run: domain.FormatRun(st.RunTime), RunStatus: st}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	run, err := domain.ParseRun(chi.URLParam(r, "run"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid run: %w", err))
		return
	}
	missing, err := s.status.Missing(r.Context(), run)
	if err != nil {
		s.logger.Error("missing offsets", "run", domain.FormatRun(run), "error", err)
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if missing == nil {
		missing = []int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      domain.FormatRun(run),
		"missing":  missing,
		"complete": len(missing) == 0,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
