// Package api exposes the clipping pipeline over HTTP. Every job runs in the
// background; clients poll the task endpoints for the report.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/forPelevin/autoclip/internal/domain/captions"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/tasks"
	"github.com/forPelevin/autoclip/internal/types"
	"github.com/forPelevin/autoclip/internal/usecase"
)

const Version = "0.1.0"

// RunFunc executes one pipeline job.
type RunFunc func(ctx context.Context, in usecase.Input) (types.PipelineReport, error)

// TranscribeFunc transcribes one local audio or video file.
type TranscribeFunc func(ctx context.Context, path string) (types.Transcript, error)

// CaptionFunc captions one video outside of a clipping job.
type CaptionFunc func(ctx context.Context, p captions.Payload, opts captions.Options) (types.CaptionResult, error)

// DependencyFunc reports which external tools are usable.
type DependencyFunc func(ctx context.Context) map[string]bool

type ServerConfig struct {
	Host string
	Port int

	Run        RunFunc
	Dispatcher *tasks.Dispatcher
	Registry   tasks.Registry

	// Standalone analysis operations. A nil func leaves its endpoints
	// unmounted.
	Transcribe   TranscribeFunc
	Caption      CaptionFunc
	Dependencies DependencyFunc

	// UploadDir receives uploaded sources. ClipsDir and ResultsDir are
	// served under /data/clips and /data/results.
	UploadDir      string
	ClipsDir       string
	ResultsDir     string
	MaxUploadBytes int64

	DefaultAspect     string
	DefaultTemplateID string
	DefaultLanguage   string
	CaptionsEnabled   bool
	URLsEnabled       bool

	Logger    *slog.Logger
	StartTime time.Time
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	cfg.Logger = logging.WithComponent(cfg.Logger, "api")
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
