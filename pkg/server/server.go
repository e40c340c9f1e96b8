// Package server exposes the memory pipeline over HTTP. It is a thin
// ingress: request decoding, status mapping and request-scoped logging.
// All semantics live in the usecase layer.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/usecase/memory"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

// Pipeline is the surface the server needs from the memory usecase.
type Pipeline interface {
	Add(ctx context.Context, sub *model.Submission) (*model.Report, error)
	Search(ctx context.Context, owner model.OwnerID, query string, limit int) ([]model.Candidate, error)
	Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error)
	List(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error)
}

var _ Pipeline = (*memory.UseCase)(nil)

// Server wraps an http.Server around the pipeline handlers.
type Server struct {
	pipeline Pipeline
	server   *http.Server
}

// New creates a server listening on addr.
func New(addr string, pipeline Pipeline) *Server {
	s := &Server{pipeline: pipeline}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/memories", s.handleAdd)
	mux.HandleFunc("GET /v1/memories/search", s.handleSearch)
	mux.HandleFunc("GET /v1/memories/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/memories", s.handleList)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           requestLog(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Default().Info("starting http server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return goerr.Wrap(err, "http server failed", goerr.V("addr", s.server.Addr))

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shut down http server")
		}
		return nil
	}
}

// requestLog attaches a request-scoped logger and records method, path and
// duration for every request.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logger := logging.Default().With("method", r.Method, "path", r.URL.Path)
		ctx := logging.With(r.Context(), logger)
		next.ServeHTTP(w, r.WithContext(ctx))

		logger.Debug("request handled", "duration", time.Since(start))
	})
}
