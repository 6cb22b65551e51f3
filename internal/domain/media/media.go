// Package media probes source videos and derives the audio track used for
// transcription.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/types"
)

type Service struct {
	prober  ports.MediaProber
	audio   ports.AudioTool
	tempDir string
	logger  *slog.Logger
}

func New(prober ports.MediaProber, audio ports.AudioTool, tempDir string, logger *slog.Logger) *Service {
	return &Service{
		prober:  prober,
		audio:   audio,
		tempDir: tempDir,
		logger:  logging.WithComponent(logger, "media"),
	}
}

// Probe returns container metadata for path. Every failure is a probe error.
func (s *Service) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return types.MediaInfo{}, errs.Wrap(errs.Probe, err, "stat source")
	}
	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return types.MediaInfo{}, errs.Wrap(errs.Probe, err, "probe source")
	}
	if info.Width <= 0 || info.Height <= 0 {
		return types.MediaInfo{}, errs.Errorf(errs.Probe, "invalid dimensions %dx%d", info.Width, info.Height)
	}
	if info.Duration < 0 {
		return types.MediaInfo{}, errs.Errorf(errs.Probe, "negative duration %v", info.Duration)
	}
	s.logger.Info("probed source",
		"path", path,
		"duration", info.Duration,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"codec", info.Codec,
		"has_audio", info.HasAudio,
		"size", humanize.Bytes(uint64(info.FileSize)),
	)
	return info, nil
}

// ExtractAudio writes a mono 16kHz PCM wav for videoPath into the temp area
// and returns its path. The caller owns the returned file.
func (s *Service) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.Errorf(errs.Extraction, "video file not found: %s", videoPath)
		}
		return "", errs.Wrap(errs.Extraction, err, "stat video")
	}
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", errs.Wrap(errs.Storage, err, "create temp dir")
	}

	base := filepath.Base(videoPath)
	base = base[:len(base)-len(filepath.Ext(base))]
	out := filepath.Join(s.tempDir, fmt.Sprintf("%s_%s_audio.wav", base, uuid.NewString()[:8]))

	if err := s.audio.ExtractAudio(ctx, videoPath, out); err != nil {
		_ = os.Remove(out)
		return "", errs.Wrap(errs.Extraction, err, "extract audio")
	}
	st, err := os.Stat(out)
	if err != nil {
		return "", errs.Wrap(errs.Extraction, err, "audio output missing")
	}
	s.logger.Info("extracted audio", "path", out, "size", humanize.Bytes(uint64(st.Size())))
	return out, nil
}
