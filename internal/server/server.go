// Package server is the HTTP transport adapter. It frames requests and
// responses; every decision belongs to the dispatcher. Protocol failures are
// reported inside the response envelope with status 200, so callers have
// exactly one result shape to parse.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opgate/opgate/internal/dispatch"
	"github.com/opgate/opgate/internal/model"
)

// maxBodyBytes bounds request bodies before JSON decoding.
const maxBodyBytes = 1 << 20

// Server serves the HTTP API.
type Server struct {
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	http       *http.Server
}

// New builds a Server listening on addr.
func New(addr string, d *dispatch.Dispatcher, log *zap.Logger) *Server {
	s := &Server{dispatcher: d, log: log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Post("/v1/execute", s.handleExecute)
	r.Get("/v1/operations", s.handleOperations)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Metrics().Registry(), promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, model.Fail(model.ErrValidation, "malformed request", "request body is not a valid request object"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	s.writeJSON(w, resp)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"operations": s.dispatcher.Operations()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":      "ok",
		"policy_hash": s.dispatcher.Registry().Hash(),
		"operations":  s.dispatcher.Registry().Len(),
	})
}

// writeJSON always answers 200. Failures live inside the envelope.
func (s *Server) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("response write failed", zap.Error(err))
	}
}
