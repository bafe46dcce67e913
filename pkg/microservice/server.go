// Package microservice provides the local status server of a recordview
// process: health, metrics and a read-only view of the entity caches.
package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// BaseConfig holds the fields every recordview process shares.
type BaseConfig struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`
}

// CachedEntry is what the cache view reports for one key.
type CachedEntry struct {
	Key       string    `json:"key"`
	FetchedAt time.Time `json:"fetched_at"`
	Value     any       `json:"value"`
}

// EntryLookup finds the cached entry for kind and id. The bool is false when
// nothing is cached.
type EntryLookup func(ctx context.Context, kind, id string) (CachedEntry, bool, error)

// BaseServer provides the common endpoints of a status server.
type BaseServer struct {
	Logger     zerolog.Logger
	HTTPPort   string
	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex
}

// NewBaseServer creates a server exposing /healthz and /metrics.
func NewBaseServer(logger zerolog.Logger, httpPort string) *BaseServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", HealthzHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &BaseServer{
		Logger:   logger.With().Str("component", "StatusServer").Logger(),
		HTTPPort: httpPort,
		mux:      mux,
		httpServer: &http.Server{
			Addr:              httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// HandleEntries exposes lookup under GET /cache/{kind}/{id}.
func (s *BaseServer) HandleEntries(lookup EntryLookup) {
	s.mux.HandleFunc("GET /cache/{kind}/{id}", func(w http.ResponseWriter, r *http.Request) {
		kind, id := r.PathValue("kind"), r.PathValue("id")
		entry, ok, err := lookup(r.Context(), kind, id)
		if err != nil {
			s.Logger.Warn().Err(err).Str("kind", kind).Str("id", id).Msg("Cache lookup failed.")
			if errors.Is(err, records.ErrUnknownKind) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "cache lookup failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "not cached", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entry); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to encode cache entry.")
		}
	})
}

// Start initiates the HTTP server in a background goroutine.
func (s *BaseServer) Start() error {
	listener, err := net.Listen("tcp", s.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, respecting the provided context's deadline.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.Logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.Logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns the port the server is listening on, which differs from
// the configured one when that was ":0".
func (s *BaseServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.HTTPPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux.
func (s *BaseServer) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
