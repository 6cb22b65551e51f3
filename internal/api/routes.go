package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forPelevin/autoclip/internal/domain/render"
	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports/adapters/ytdlp"
	"github.com/forPelevin/autoclip/internal/tasks"
	"github.com/forPelevin/autoclip/internal/types"
	"github.com/forPelevin/autoclip/internal/usecase"
)

const (
	maxJSONBody = 64 << 10

	DefaultMaxUploadBytes int64 = 500 << 20
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "autoclip-uploads")
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.Dependencies != nil {
		r.Get("/health/dependencies", dependenciesHandler(cfg))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/clips/upload", uploadHandler(cfg))
		r.Post("/clips/url", urlHandler(cfg))
		r.Post("/clips/file", fileHandler(cfg))
		r.Get("/tasks", listTasksHandler(cfg))
		r.Get("/tasks/{id}", getTaskHandler(cfg))

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/formats", formatsHandler(cfg))
			if cfg.Transcribe != nil {
				r.Post("/transcribe", transcribeHandler(cfg))
				r.Post("/upload-transcribe", uploadTranscribeHandler(cfg))
			}
			if cfg.Caption != nil {
				r.Post("/zapcap", captionHandler(cfg))
			}
		})
	})

	// Only the output dirs are public; uploads and temp files live elsewhere.
	mountDir(r, "/data/clips/", cfg.ClipsDir)
	mountDir(r, "/data/results/", cfg.ResultsDir)
	return r
}

func mountDir(r chi.Router, prefix, dir string) {
	if dir == "" {
		return
	}
	r.Handle(prefix+"*", http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+maxJSONBody)
		up, form, err := receiveUpload(r, uploadRules{
			Dir:        cfg.UploadDir,
			Prefix:     "upload",
			MaxBytes:   cfg.MaxUploadBytes,
			Exts:       videoExtensions,
			MediaTypes: []string{"video/"},
		})
		if err != nil {
			writeErr(w, err)
			return
		}

		opts, err := formOptions(form)
		if err == nil {
			err = validateOptions(cfg, &opts)
		}
		if err != nil {
			_ = os.Remove(up.Path)
			writeErr(w, err)
			return
		}

		src := types.Source{Kind: types.SourceUpload, Path: up.Path, OriginalName: up.Filename}
		meta := optionMeta(opts)
		meta["filename"] = up.Filename
		if !submit(w, r, cfg, tasks.TypeUpload, meta, toInput(src, opts)) {
			_ = os.Remove(up.Path)
		}
	}
}

func urlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClipFromURLRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}
		if !cfg.URLsEnabled {
			writeErr(w, errs.New(errs.Validation, "url sources are not enabled"))
			return
		}
		if ytdlp.DetectPlatform(req.URL) == ytdlp.PlatformUnknown {
			writeErr(w, errs.New(errs.Validation, "url must be from a supported platform: "+strings.Join(supportedPlatforms, ", ")))
			return
		}
		if err := validateOptions(cfg, &req.ClipOptions); err != nil {
			writeErr(w, err)
			return
		}

		meta := optionMeta(req.ClipOptions)
		meta["url"] = req.URL
		submit(w, r, cfg, tasks.TypeURL, meta, toInput(types.Source{Kind: types.SourceURL, URL: req.URL}, req.ClipOptions))
	}
}

func fileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClipFromFileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}
		if req.FilePath == "" {
			writeErr(w, errs.New(errs.Validation, "file_path is required"))
			return
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(req.FilePath))] {
			writeErr(w, errs.New(errs.Validation, "file must have a supported extension: .mp4, .mov, .avi, .mkv, .webm"))
			return
		}
		if st, err := os.Stat(req.FilePath); err != nil || st.IsDir() {
			writeErr(w, errs.Errorf(errs.Validation, "file not found: %s", req.FilePath))
			return
		}
		if err := validateOptions(cfg, &req.ClipOptions); err != nil {
			writeErr(w, err)
			return
		}

		meta := optionMeta(req.ClipOptions)
		meta["file_path"] = req.FilePath
		submit(w, r, cfg, tasks.TypeFile, meta, toInput(types.Source{Kind: types.SourcePath, Path: req.FilePath}, req.ClipOptions))
	}
}

func getTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := cfg.Registry.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, tasks.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "task not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to get task", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, TaskToResponse(t))
	}
}

func listTasksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.Registry.List(r.Context(), r.URL.Query().Get("task_type"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list tasks", "INTERNAL_ERROR")
			return
		}
		resp := TasksResponse{Tasks: make([]TaskResponse, len(list)), Total: len(list)}
		for i, t := range list {
			resp.Tasks[i] = TaskToResponse(t)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// submit hands the job to the dispatcher and writes the 202 response. It
// reports whether the task was accepted.
func submit(w http.ResponseWriter, r *http.Request, cfg ServerConfig, taskType string, meta map[string]string, in usecase.Input) bool {
	t, err := cfg.Dispatcher.Submit(r.Context(), taskType, meta, func(ctx context.Context, taskID string) (types.PipelineReport, error) {
		in.TaskID = taskID
		return cfg.Run(ctx, in)
	})
	if err != nil {
		writeErr(w, err)
		return false
	}
	WriteJSON(w, http.StatusAccepted, TaskCreatedResponse{
		TaskID:  t.ID,
		Status:  t.Status,
		Message: "Clip processing started",
	})
	return true
}

func validateOptions(cfg ServerConfig, o *ClipOptions) error {
	if o.AspectRatio == "" {
		o.AspectRatio = cfg.DefaultAspect
	}
	if o.AspectRatio == "" {
		o.AspectRatio = render.AspectVertical
	}
	if !render.SupportedAspect(o.AspectRatio) {
		return errs.Errorf(errs.Validation, "invalid aspect_ratio %q", o.AspectRatio)
	}
	if o.MaxClips == 0 {
		o.MaxClips = usecase.DefaultMaxClips
	}
	if o.MaxClips < 1 || o.MaxClips > usecase.MaxClipsLimit {
		return errs.Errorf(errs.Validation, "max_clips must be between 1 and %d", usecase.MaxClipsLimit)
	}
	if o.UseZapcap && !cfg.CaptionsEnabled {
		return errs.New(errs.Validation, "captioning is not configured (set ZAPCAP_API_KEY)")
	}
	if o.ZapcapTemplateID == "" {
		o.ZapcapTemplateID = cfg.DefaultTemplateID
	}
	if o.ZapcapLanguage == "" {
		o.ZapcapLanguage = cfg.DefaultLanguage
	}
	return nil
}

func formOptions(form map[string]string) (ClipOptions, error) {
	o := ClipOptions{
		ZapcapTemplateID: form["zapcap_template_id"],
		ZapcapLanguage:   form["zapcap_language"],
		AspectRatio:      form["aspect_ratio"],
	}
	if v := form["use_zapcap"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return o, errs.Errorf(errs.Validation, "invalid use_zapcap %q", v)
		}
		o.UseZapcap = b
	}
	if v := form["max_clips"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return o, errs.Errorf(errs.Validation, "invalid max_clips %q", v)
		}
		o.MaxClips = n
	}
	return o, nil
}

func optionMeta(o ClipOptions) map[string]string {
	return map[string]string{
		"use_zapcap":   strconv.FormatBool(o.UseZapcap),
		"aspect_ratio": o.AspectRatio,
		"max_clips":    strconv.Itoa(o.MaxClips),
	}
}

func toInput(src types.Source, o ClipOptions) usecase.Input {
	return usecase.Input{
		Source:            src,
		UseCaption:        o.UseZapcap,
		CaptionTemplateID: o.ZapcapTemplateID,
		CaptionLanguage:   o.ZapcapLanguage,
		AspectRatio:       o.AspectRatio,
		MaxClips:          o.MaxClips,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.Validation, err, "invalid request body")
	}
	return nil
}

// writeErr maps an error kind onto an HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	case errs.Is(err, errs.Validation):
		WriteError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errs.Is(err, errs.Download):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "DOWNLOAD_ERROR")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
