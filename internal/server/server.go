package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"soundprint/internal/config"
	"soundprint/internal/downloader"
	"soundprint/internal/logging"
	"soundprint/internal/ngrok"
	"soundprint/internal/pipeline"
	"soundprint/pkg/models"

	"github.com/sirupsen/logrus"
)

// JobHistory is the read side of the registration job table.
type JobHistory interface {
	GetJob(id string) (*models.Job, error)
	GetAllJobs(limit int) ([]models.Job, error)
}

// Server exposes the registrar and its store over a JSON HTTP API.
type Server struct {
	config       *config.Config
	registrar    *pipeline.Registrar
	urls         *downloader.Downloader
	jobs         JobHistory
	ngrokService *ngrok.Service
	logger       *logrus.Entry
	startedAt    time.Time
}

// NewServer creates a new API server. jobs may be nil when job history is
// disabled.
func NewServer(cfg *config.Config, registrar *pipeline.Registrar, jobs JobHistory, logger *logrus.Logger) *Server {
	log := logging.Component(logger, "server")

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		log.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	return &Server{
		config:       cfg,
		registrar:    registrar,
		urls:         downloader.NewDownloader(cfg, nil, logger),
		jobs:         jobs,
		ngrokService: ngrokSvc,
		logger:       log,
		startedAt:    time.Now(),
	}
}

// Handler returns the routed API wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.requestLoggingMiddleware(handler)
	handler = s.panicRecoveryMiddleware(handler)
	return handler
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/results.json", s.handleResultsJSON)
	mux.HandleFunc("/api/tracks", s.handleGetTracks)
	mux.HandleFunc("/api/tracks/", s.handleTrack) // GET or DELETE by id
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/upload", s.handleUploadTrack)
	mux.HandleFunc("/api/validate-url", s.handleValidateURL)
	mux.HandleFunc("/api/jobs", s.handleGetJobs)
	mux.HandleFunc("/api/jobs/", s.handleGetJobs) // For specific job ID
	mux.HandleFunc("/api/config", s.handleGetConfig)
	mux.HandleFunc("/health", s.handleHealthCheck)
}

// Start listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.GetAddress())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.GetAddress(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve runs the API on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	localAddress := "http://" + listener.Addr().String()
	s.logger.WithField("address", localAddress).Info("soundprint API listening")

	if s.ngrokService != nil {
		if err := s.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			s.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer s.ngrokService.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("API server shutdown complete")
	return nil
}
