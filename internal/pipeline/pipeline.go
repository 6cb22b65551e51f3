// Package pipeline wires the concrete adapters into the clipping usecase and
// persists job reports.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/forPelevin/autoclip/internal/domain/captions"
	"github.com/forPelevin/autoclip/internal/domain/media"
	"github.com/forPelevin/autoclip/internal/domain/render"
	"github.com/forPelevin/autoclip/internal/domain/selection"
	"github.com/forPelevin/autoclip/internal/domain/transcript"
	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/autoclip/internal/ports/adapters/openai"
	"github.com/forPelevin/autoclip/internal/ports/adapters/openrouter"
	"github.com/forPelevin/autoclip/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/autoclip/internal/ports/adapters/ytdlp"
	"github.com/forPelevin/autoclip/internal/ports/adapters/zapcap"
	"github.com/forPelevin/autoclip/internal/types"
	"github.com/forPelevin/autoclip/internal/usecase"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderWhisperCPP = "whispercpp"
)

type Config struct {
	// LLMProvider picks the segment selector backend, ASRProvider the
	// speech-to-text backend.
	LLMProvider string
	ASRProvider string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	TranscriptionModel string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string

	WhisperBin   string
	WhisperModel string

	ZapcapAPIKey        string
	ZapcapBaseURL       string
	ZapcapTemplateID    string
	ZapcapLanguage      string
	CaptionPollInterval time.Duration
	CaptionTimeout      time.Duration

	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string

	InstagramUsername string
	InstagramPassword string

	UploadDir  string
	ClipsDir   string
	TempDir    string
	ResultsDir string

	MaxFileSize         int64
	MinClip             time.Duration
	MaxClip             time.Duration
	MaxChunkBytes       int64
	MaxConcurrentChunks int
	DefaultAspect       string
	Preset              string
	CRF                 int
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errs.New(errs.Validation, "OPENAI_API_KEY is required (set it in .env)")
		}
	case ProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return errs.New(errs.Validation, "OPENROUTER_API_KEY is required (set it in .env)")
		}
		if err := openrouter.ValidateBaseURL(c.OpenRouterBaseURL, c.OpenRouterAllowedHosts); err != nil {
			return err
		}
	default:
		return errs.Errorf(errs.Validation, "unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.ASRProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errs.New(errs.Validation, "OPENAI_API_KEY is required for openai transcription")
		}
	case ProviderWhisperCPP:
		if c.WhisperModel == "" {
			return errs.New(errs.Validation, "WHISPER_MODEL is required for whispercpp transcription")
		}
	default:
		return errs.Errorf(errs.Validation, "unknown ASR_PROVIDER %q", c.ASRProvider)
	}

	switch {
	case c.MinClip <= 0:
		return errs.New(errs.Validation, "min clip must be > 0")
	case c.MaxClip <= 0:
		return errs.New(errs.Validation, "max clip must be > 0")
	case c.MinClip > c.MaxClip:
		return errs.New(errs.Validation, "min clip must be <= max clip")
	case c.CRF < 0 || c.CRF > 51:
		return errs.Errorf(errs.Validation, "crf must be in [0, 51], got %d", c.CRF)
	case c.DefaultAspect != "" && !render.SupportedAspect(c.DefaultAspect):
		return errs.Errorf(errs.Validation, "unsupported DEFAULT_ASPECT_RATIO %q", c.DefaultAspect)
	}
	return nil
}

func (c Config) CaptionsEnabled() bool { return c.ZapcapAPIKey != "" }

// Pipeline is a fully wired usecase plus report persistence.
type Pipeline struct {
	uc          usecase.Usecase
	media       *media.Service
	transcriber *transcript.Transcriber
	captions    *captions.Client
	tools       *ffmpeg.Adapter
	downloader  *ytdlp.Adapter
	resultsDir  string
	logger      *slog.Logger
	now         func() time.Time
}

func Build(cfg Config, logger *slog.Logger) *Pipeline {
	logger = logging.OrDiscard(logger)

	ff := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	dl := ytdlp.New(ytdlp.Config{
		Bin:               cfg.YtDlpPath,
		InstagramUsername: cfg.InstagramUsername,
		InstagramPassword: cfg.InstagramPassword,
	})

	var oa *openai.Adapter
	if cfg.LLMProvider == ProviderOpenAI || cfg.ASRProvider == ProviderOpenAI {
		oa = openai.New(openai.Config{
			APIKey:             cfg.OpenAIAPIKey,
			BaseURL:            cfg.OpenAIBaseURL,
			ChatModel:          cfg.OpenAIModel,
			TranscriptionModel: cfg.TranscriptionModel,
			MaxRetries:         -1,
		})
	}

	var gen ports.TextGenerator = oa
	if cfg.LLMProvider == ProviderOpenRouter {
		gen = openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL)
	}
	var stt ports.SpeechToText = oa
	if cfg.ASRProvider == ProviderWhisperCPP {
		stt = whispercpp.New(cfg.WhisperBin, cfg.WhisperModel)
	}

	ms := media.New(ff, ff, cfg.TempDir, logger)
	tr := transcript.New(stt, ff, transcript.Config{
		MaxChunkBytes: cfg.MaxChunkBytes,
		Concurrency:   cfg.MaxConcurrentChunks,
		TempDir:       cfg.TempDir,
	}, logger)
	deps := usecase.Deps{
		Media:       ms,
		Transcriber: tr,
		Selector:    selection.New(gen, logger),
		Renderer: render.New(ff, ff, render.Config{
			MinDuration: cfg.MinClip.Seconds(),
			MaxDuration: cfg.MaxClip.Seconds(),
			Preset:      cfg.Preset,
			CRF:         cfg.CRF,
		}, logger),
		Downloader: dl,
		Settings: usecase.Settings{
			ClipsDir: cfg.ClipsDir,
			TempDir:  cfg.TempDir,
			MinClip:  cfg.MinClip.Seconds(),
			MaxClip:  cfg.MaxClip.Seconds(),
		},
		Logger: logger,
	}
	var cc *captions.Client
	if cfg.CaptionsEnabled() {
		cc = captions.New(zapcap.New(cfg.ZapcapAPIKey, cfg.ZapcapBaseURL), captionConfig(cfg), logger)
		deps.Captions = cc
		logger.Info("captioning enabled", "api_key", logging.SanitizeToken(cfg.ZapcapAPIKey))
	}

	return &Pipeline{
		uc:          usecase.New(deps),
		media:       ms,
		transcriber: tr,
		captions:    cc,
		tools:       ff,
		downloader:  dl,
		resultsDir:  cfg.ResultsDir,
		logger:      logging.WithComponent(logger, "pipeline"),
		now:         time.Now,
	}
}

// captionConfig places captioned videos in the results dir and sizes the
// multipart part pool like the transcription pool.
func captionConfig(cfg Config) captions.Config {
	return captions.Config{
		ResultsDir:      cfg.ResultsDir,
		PollInterval:    cfg.CaptionPollInterval,
		Timeout:         cfg.CaptionTimeout,
		PartConcurrency: cfg.MaxConcurrentChunks,
	}
}

// CheckDownloader reports whether yt-dlp is runnable.
func (p *Pipeline) CheckDownloader(ctx context.Context) error {
	return p.downloader.Check(ctx)
}

// Dependencies reports which external tools can be run.
func (p *Pipeline) Dependencies(ctx context.Context) map[string]bool {
	failed := p.tools.Check(ctx)
	out := map[string]bool{
		"ffmpeg":  failed["ffmpeg"] == nil,
		"ffprobe": failed["ffprobe"] == nil,
		"yt_dlp":  p.downloader.Check(ctx) == nil,
	}
	for name, err := range failed {
		p.logger.Debug("dependency check failed", "tool", name, "error", err)
	}
	return out
}

// TranscribeFile transcribes the audio track of any audio or video file
// without running the rest of the pipeline. The extracted wav is removed
// before returning.
func (p *Pipeline) TranscribeFile(ctx context.Context, path string) (types.Transcript, error) {
	audio, err := p.media.ExtractAudio(ctx, path)
	if err != nil {
		return types.Transcript{}, err
	}
	defer func() {
		if err := os.Remove(audio); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("remove extracted audio", "path", audio, "error", err)
		}
	}()
	return p.transcriber.Transcribe(ctx, audio)
}

// CaptionUpload captions one video directly. The result lands in the results
// dir.
func (p *Pipeline) CaptionUpload(ctx context.Context, payload captions.Payload, opts captions.Options) (types.CaptionResult, error) {
	if p.captions == nil {
		return types.CaptionResult{}, errs.New(errs.Validation, "captioning is not configured (set ZAPCAP_API_KEY)")
	}
	return p.captions.CaptionPayload(ctx, payload, opts)
}

// Run executes one job and, when a results dir is configured, stores its
// report there. A report that cannot be stored is logged, not fatal.
func (p *Pipeline) Run(ctx context.Context, in usecase.Input) (types.PipelineReport, error) {
	report, err := p.uc.Run(ctx, in)
	if err != nil {
		return types.PipelineReport{}, err
	}
	if p.resultsDir == "" {
		return report, nil
	}
	if path, err := SaveReport(p.resultsDir, sourceName(in.Source), report, p.now()); err != nil {
		p.logger.Warn("store report", "error", err)
	} else {
		p.logger.Info("report written", "path", path, "clips", len(report.Clips))
	}
	return report, nil
}

// SaveReport writes report as indented JSON to a fresh file under dir and
// returns its path.
func SaveReport(dir, name string, report types.PipelineReport, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.Storage, err, "create results dir")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	p := reportPath(dir, name, now)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", errs.Wrap(errs.Storage, err, "write report")
	}
	return p, nil
}

func reportPath(dir, name string, now time.Time) string {
	seg := normalizePathSegment(strings.TrimSuffix(name, filepath.Ext(name)))
	if seg == "" {
		seg = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	suffix := hash(fmt.Sprintf("%s|%d", name, now.UTC().UnixNano()))[:6]
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s.json", seg, ts, suffix))
}

func sourceName(src types.Source) string {
	switch {
	case src.OriginalName != "":
		return src.OriginalName
	case src.Path != "":
		return filepath.Base(src.Path)
	case src.URL != "":
		platform := ytdlp.DetectPlatform(src.URL)
		if id := ytdlp.PostID(src.URL, platform); id != "" {
			return platform + "-" + id
		}
		return platform
	}
	return ""
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var (
	_ ports.MediaProber   = (*ffmpeg.Adapter)(nil)
	_ ports.AudioTool     = (*ffmpeg.Adapter)(nil)
	_ ports.ClipEncoder   = (*ffmpeg.Adapter)(nil)
	_ ports.SpeechToText  = (*openai.Adapter)(nil)
	_ ports.SpeechToText  = (*whispercpp.Adapter)(nil)
	_ ports.TextGenerator = (*openai.Adapter)(nil)
	_ ports.TextGenerator = (*openrouter.Adapter)(nil)
	_ ports.Downloader    = (*ytdlp.Adapter)(nil)
	_ ports.CaptionAPI    = (*zapcap.Adapter)(nil)
)
