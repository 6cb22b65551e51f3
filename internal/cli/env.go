package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/forPelevin/autoclip/internal/domain/render"
	"github.com/forPelevin/autoclip/internal/pipeline"
	"github.com/forPelevin/autoclip/internal/ports/adapters/openrouter"
)

// configFromEnv reads every pipeline setting from the environment, applying
// the documented defaults. Validation is left to Config.Validate.
func configFromEnv() (pipeline.Config, error) {
	cfg := pipeline.Config{
		LLMProvider:        getenvDefault("LLM_PROVIDER", pipeline.ProviderOpenAI),
		ASRProvider:        getenvDefault("ASR_PROVIDER", pipeline.ProviderOpenAI),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:        getenvDefault("OPENAI_MODEL", "gpt-4o"),
		TranscriptionModel: getenvDefault("TRANSCRIPTION_MODEL", "whisper-1"),

		OpenRouterAPIKey:       os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:        getenvDefault("OPENROUTER_MODEL", "anthropic/claude-3.5-sonnet"),
		OpenRouterBaseURL:      getenvDefault("OPENROUTER_BASE_URL", openrouter.DefaultBaseURL),
		OpenRouterAllowedHosts: openrouter.ParseAllowedHosts(os.Getenv("OPENROUTER_ALLOWED_HOSTS")),

		WhisperBin:   getenvDefault("WHISPER_BIN", "whisper-cli"),
		WhisperModel: os.Getenv("WHISPER_MODEL"),

		ZapcapAPIKey:     os.Getenv("ZAPCAP_API_KEY"),
		ZapcapBaseURL:    getenvDefault("ZAPCAP_API_BASE", "https://api.zapcap.ai"),
		ZapcapTemplateID: os.Getenv("ZAPCAP_TEMPLATE_ID"),
		ZapcapLanguage:   getenvDefault("ZAPCAP_LANGUAGE", "en"),

		FFmpegPath:  getenvDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getenvDefault("FFPROBE_PATH", "ffprobe"),
		YtDlpPath:   getenvDefault("YTDLP_PATH", "yt-dlp"),

		InstagramUsername: os.Getenv("INSTAGRAM_USERNAME"),
		InstagramPassword: os.Getenv("INSTAGRAM_PASSWORD"),

		UploadDir:  getenvDefault("UPLOAD_DIR", "data/uploads"),
		ClipsDir:   getenvDefault("CLIPS_DIR", "data/clips"),
		TempDir:    getenvDefault("TEMP_DIR", "data/temp"),
		ResultsDir: getenvDefault("RESULTS_DIR", "data/results"),

		DefaultAspect: getenvDefault("DEFAULT_ASPECT_RATIO", render.AspectVertical),
		Preset:        getenvDefault("FFMPEG_PRESET", render.DefaultPreset),
	}

	var err error
	if cfg.CaptionPollInterval, err = getenvDuration("CAPTION_POLL_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.CaptionTimeout, err = getenvDuration("CAPTION_TIMEOUT", 600*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MinClip, err = getenvDuration("MIN_CLIP_DURATION", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MaxClip, err = getenvDuration("MAX_CLIP_DURATION", 120*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MaxFileSize, err = getenvBytes("MAX_FILE_SIZE", 500<<20); err != nil {
		return cfg, err
	}
	if cfg.MaxChunkBytes, err = getenvBytes("MAX_TRANSCRIPTION_CHUNK_SIZE", 20<<20); err != nil {
		return cfg, err
	}
	if cfg.MaxConcurrentChunks, err = getenvInt("MAX_CONCURRENT_CHUNKS", 5); err != nil {
		return cfg, err
	}
	if cfg.CRF, err = getenvInt("VIDEO_QUALITY_CRF", render.DefaultCRF); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", k, v)
	}
	return n, nil
}

// getenvDuration accepts Go durations ("5s", "2m") or plain seconds ("600").
func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(sec * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", k, v)
	}
	return d, nil
}

// getenvBytes accepts plain byte counts or human sizes ("500MB", "20 MiB").
func getenvBytes(k string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q", k, v)
	}
	return int64(n), nil
}
