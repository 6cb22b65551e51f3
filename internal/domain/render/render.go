// Package render cuts aspect-adapted clips out of a source video.
package render

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/types"
)

const (
	DefaultMinDuration = 10.0
	DefaultMaxDuration = 120.0
	DefaultPreset      = "fast"
	DefaultCRF         = 23
)

type Config struct {
	MinDuration float64
	MaxDuration float64
	Preset      string
	CRF         int
}

type Renderer struct {
	enc    ports.ClipEncoder
	prober ports.MediaProber
	cfg    Config
	logger *slog.Logger
}

func New(enc ports.ClipEncoder, prober ports.MediaProber, cfg Config, logger *slog.Logger) *Renderer {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.Preset == "" {
		cfg.Preset = DefaultPreset
	}
	if cfg.CRF <= 0 {
		cfg.CRF = DefaultCRF
	}
	return &Renderer{enc: enc, prober: prober, cfg: cfg, logger: logging.WithComponent(logger, "renderer")}
}

type Request struct {
	Source string
	// Info is the probed source; when nil the source is probed again.
	Info   *types.MediaInfo
	Start  float64
	End    float64
	Output string
	Aspect string
}

// Render validates the window, encodes it and checks the output exists.
func (r *Renderer) Render(ctx context.Context, req Request) (string, error) {
	if err := ValidateDuration(req.Start, req.End, r.cfg.MinDuration, r.cfg.MaxDuration); err != nil {
		return "", err
	}

	info := req.Info
	if info == nil {
		probed, err := r.prober.Probe(ctx, req.Source)
		if err != nil {
			return "", errs.Wrap(errs.VideoProcessing, err, "probe source for render")
		}
		info = &probed
	}
	tr, err := ComputeTransform(*info, req.Aspect)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return "", errs.Wrap(errs.Storage, err, "create clip dir")
	}
	r.logger.Info("rendering clip",
		"output", filepath.Base(req.Output),
		"start", req.Start,
		"end", req.End,
		"aspect", req.Aspect,
		"filter", tr.Filter(),
	)

	err = r.enc.EncodeClip(ctx, ports.EncodeRequest{
		Input:     req.Source,
		Output:    req.Output,
		Start:     req.Start,
		End:       req.End,
		Filter:    tr.Filter(),
		Preset:    r.cfg.Preset,
		CRF:       r.cfg.CRF,
		KeepAudio: info.HasAudio,
	})
	if err != nil {
		_ = os.Remove(req.Output)
		return "", errs.Wrap(errs.VideoProcessing, err, "encode clip")
	}
	if _, err := os.Stat(req.Output); err != nil {
		return "", errs.Wrap(errs.VideoProcessing, err, "clip output missing")
	}
	return req.Output, nil
}
