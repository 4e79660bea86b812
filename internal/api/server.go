package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/framemark/framemark-agent/internal/catalog"
	"github.com/framemark/framemark-agent/internal/daemon"
	"github.com/framemark/framemark-agent/internal/logging"
	"github.com/framemark/framemark-agent/internal/models"
	"github.com/framemark/framemark-agent/internal/playback"
	"github.com/framemark/framemark-agent/internal/predictor"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port         int
	Service      *catalog.Service
	Repository   catalog.Repository
	Registry     *models.Registry
	Poller       *daemon.Poller // optional
	Doctor       *predictor.CachedDoctor
	Playback     *playback.Server
	RequireToken bool
	Logger       *slog.Logger
	StartTime    time.Time
	Version      string
}

// NewServer binds to loopback only. Uploads and result streams can run
// for minutes, so only header reads are bounded.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 16,
		},
		logger: logging.WithComponent(cfg.Logger, "api"),
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
