// Package httpapi exposes the prefetch, stats and image boundaries over
// HTTP. Handlers are thin: they validate shape, call into the core and
// encode the result.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/soundshelf/go-catalog/logger"
	"github.com/soundshelf/go-catalog/prefetch"
	"github.com/soundshelf/go-catalog/stats"
)

// Scheduler is the subset of the prefetch scheduler the API needs.
type Scheduler interface {
	Submit(ids []string, priority prefetch.Priority) prefetch.Result
	Status() prefetch.Status
}

// Server routes the external boundaries.
type Server struct {
	log        logger.Logger
	scheduler  Scheduler
	aggregator *stats.Aggregator
	image      http.Handler
	srv        *http.Server
}

// New wires the boundary handlers. image is the imageproxy handler.
func New(log logger.Logger, scheduler Scheduler, aggregator *stats.Aggregator, image http.Handler) *Server {
	return &Server{
		log:        log.WithPrefix("[http]"),
		scheduler:  scheduler,
		aggregator: aggregator,
		image:      image,
	}
}

// Routes returns the full handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/prefetch", s.handlePrefetch)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/api/image", s.image)
	return s.withRequestLog(mux)
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	s.log.Info("listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

type prefetchRequest struct {
	IDs      []string `json:"ids"`
	Priority string   `json:"priority"`
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var req prefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "body must be JSON with an ids array")
		return
	}
	// An empty batch short-circuits without touching the scheduler.
	if len(req.IDs) == 0 {
		writeJSON(w, http.StatusOK, prefetch.Result{})
		return
	}
	result := s.scheduler.Submit(req.IDs, prefetch.ParsePriority(req.Priority))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	writeJSON(w, http.StatusOK, s.aggregator.Overview())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body apiError
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}
