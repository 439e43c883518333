// Package server exposes the pipeline's diagnostics: an HTTP router with
// metrics, health and debug endpoints, and a gRPC health service that
// reports SERVING once a worker is ready.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/dispatcher"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/pipeline"
)

// defaultHotKeys is used when /debug/cache/hot has no n parameter.
const defaultHotKeys = 20

// maxHotKeys caps the n parameter.
const maxHotKeys = 1000

// Source is the pipeline surface the diagnostics need.
type Source interface {
	Ready() bool
	Stats() pipeline.Stats
	HotEntries(n int) []dispatcher.HotEntry
}

// ============================================================================
// HTTP router
// ============================================================================

// NewRouter builds the diagnostics routes. metrics may be nil, in which case
// /metrics is not registered.
func NewRouter(src Source, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()

	if metrics != nil {
		router.Handle("/metrics", metrics).Methods("GET")
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !src.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	debug := router.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/pipeline", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Stats())
	}).Methods("GET")

	debug.HandleFunc("/cache/hot", func(w http.ResponseWriter, r *http.Request) {
		n := defaultHotKeys
		if raw := r.URL.Query().Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 || v > maxHotKeys {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("n must be an integer in [1, %d]", maxHotKeys),
				})
				return
			}
			n = v
		}
		hot := src.HotEntries(n)
		if hot == nil {
			hot = []dispatcher.HotEntry{}
		}
		writeJSON(w, http.StatusOK, hot)
	}).Methods("GET")

	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================================
// HTTP server
// ============================================================================

// HTTPServer serves the diagnostics router.
type HTTPServer struct {
	srv *http.Server
	log *slog.Logger
}

// NewHTTPServer creates a server for handler on port.
func NewHTTPServer(port int, handler http.Handler, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPServer{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With("component", "http"),
	}
}

// Start listens in the background. Bind errors are returned immediately.
func (s *HTTPServer) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.log.Info("Diagnostics server starting", "address", lis.Addr().String())
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Diagnostics server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown drains open connections until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping diagnostics server")
	return s.srv.Shutdown(ctx)
}
