package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/autoclip/internal/api"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/pipeline"
	"github.com/forPelevin/autoclip/internal/tasks"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	cmd.Flags().String("host", "", "Listen host (default HOST)")
	cmd.Flags().Int("port", 0, "Listen port (default PORT)")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	startTime := time.Now()

	cfg, err := configFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	host := getenvDefault("HOST", "0.0.0.0")
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		host = h
	}
	port, err := getenvInt("PORT", 8000)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}
	maxJobs, err := getenvInt("MAX_CONCURRENT_JOBS", 2)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.NewLogger(cmd.ErrOrStderr(), getenvDefault("LOG_LEVEL", "info"), getenvDefault("LOG_FORMAT", "json"))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var reg tasks.Registry = tasks.NewMemoryRegistry()
	if dbPath := getenvDefault("TASK_DB", ""); dbPath != "" {
		sq, err := tasks.OpenSQLite(dbPath, logger)
		if err != nil {
			return fmt.Errorf("open task db: %w", err)
		}
		defer sq.Close()
		reg = sq
	}

	p := pipeline.Build(cfg, logger)
	urlsEnabled := true
	if err := p.CheckDownloader(ctx); err != nil {
		logger.Warn("yt-dlp unavailable, url sources disabled", "error", err)
		urlsEnabled = false
	}

	dispatcher := tasks.NewDispatcher(ctx, reg, int64(maxJobs), logger)
	server := api.NewServer(api.ServerConfig{
		Host:              host,
		Port:              port,
		Run:               p.Run,
		Transcribe:        p.TranscribeFile,
		Caption:           p.CaptionUpload,
		Dependencies:      p.Dependencies,
		Dispatcher:        dispatcher,
		Registry:          reg,
		UploadDir:         cfg.UploadDir,
		ClipsDir:          cfg.ClipsDir,
		ResultsDir:        cfg.ResultsDir,
		MaxUploadBytes:    cfg.MaxFileSize,
		DefaultAspect:     cfg.DefaultAspect,
		DefaultTemplateID: cfg.ZapcapTemplateID,
		DefaultLanguage:   cfg.ZapcapLanguage,
		CaptionsEnabled:   cfg.CaptionsEnabled(),
		URLsEnabled:       urlsEnabled,
		Logger:            logger,
		StartTime:         startTime,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	dispatcher.Wait()

	logger.Info("shutdown complete")
	return nil
}
