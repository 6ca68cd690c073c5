// Package server exposes the crawl service's HTTP surface: job submission,
// status, cancellation, and download/live-progress endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

// Server manages the HTTP server and routes.
type Server struct {
	config    *common.Config
	logger    arbor.ILogger
	jobs      *badgerstore.JobStorage
	ipUsage   *badgerstore.IPUsageStorage
	events    *badgerstore.EventStorage
	artifacts *badgerstore.ArtifactStorage

	validate *validator.Validate
	upgrader websocket.Upgrader

	router       *http.ServeMux
	server       *http.Server
	shutdownChan chan struct{}
}

// New builds a Server wired to the given config and storage handles.
func New(config *common.Config, logger arbor.ILogger, jobs *badgerstore.JobStorage, ipUsage *badgerstore.IPUsageStorage, events *badgerstore.EventStorage, artifacts *badgerstore.ArtifactStorage) *Server {
	s := &Server{
		config:    config,
		logger:    logger,
		jobs:      jobs,
		ipUsage:   ipUsage,
		events:    events,
		artifacts: artifacts,
		validate:  validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long enough for a download of a large pages.jsonl export
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// SetShutdownChannel sets the channel signaled when graceful shutdown is requested via HTTP.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info().Str("address", addr).Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler returns the HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ShutdownHandler triggers graceful shutdown (dev mode only; not mounted unless main.go opts in).
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info().Msg("shutdown requested via HTTP endpoint")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("shutting down gracefully\n"))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
