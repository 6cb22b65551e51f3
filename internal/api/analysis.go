package api

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/forPelevin/autoclip/internal/domain/captions"
	"github.com/forPelevin/autoclip/internal/domain/render"
	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/types"
)

var (
	audioExtensions = map[string]bool{
		".mp3": true,
		".wav": true,
		".m4a": true,
		".aac": true,
	}
	transcribeExtensions = union(audioExtensions, videoExtensions)
	captionExtensions    = map[string]bool{
		".mp4": true,
		".mov": true,
		".avi": true,
	}
	supportedPlatforms = []string{"tiktok.com", "instagram.com", "youtube.com"}
)

func dependenciesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := cfg.Dependencies(r.Context())
		allOK := true
		for _, ok := range deps {
			allOK = allOK && ok
		}
		if !allOK {
			WriteJSON(w, http.StatusServiceUnavailable, DependenciesResponse{Dependencies: deps, Message: "Some dependencies missing"})
			return
		}
		WriteJSON(w, http.StatusOK, DependenciesResponse{Dependencies: deps, AllOK: true, Message: "All dependencies available"})
	}
}

func transcribeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TranscribeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, err)
			return
		}
		if req.FilePath == "" {
			writeErr(w, errs.New(errs.Validation, "file_path is required"))
			return
		}
		if !transcribeExtensions[strings.ToLower(filepath.Ext(req.FilePath))] {
			writeErr(w, errs.Errorf(errs.Validation, "unsupported file format: supported formats are %s", strings.Join(sortedKeys(transcribeExtensions), ", ")))
			return
		}
		if st, err := os.Stat(req.FilePath); err != nil || st.IsDir() {
			WriteError(w, http.StatusNotFound, "file not found: "+req.FilePath, "NOT_FOUND")
			return
		}
		withTimestamps := req.IncludeTimestamps == nil || *req.IncludeTimestamps
		respondTranscript(w, r, cfg, req.FilePath, filepath.Base(req.FilePath), withTimestamps)
	}
}

// uploadTranscribeHandler stores the upload only for as long as the
// transcription runs.
func uploadTranscribeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withTimestamps, err := queryBool(r, "return_timestamps", true)
		if err != nil {
			writeErr(w, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+maxJSONBody)
		up, _, err := receiveUpload(r, uploadRules{
			Dir:        cfg.UploadDir,
			Prefix:     "transcribe",
			MaxBytes:   cfg.MaxUploadBytes,
			Exts:       transcribeExtensions,
			MediaTypes: []string{"video/", "audio/"},
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		defer func() {
			if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				cfg.Logger.Warn("remove transcribed upload", "path", up.Path, "error", err)
			}
		}()
		respondTranscript(w, r, cfg, up.Path, up.Filename, withTimestamps)
	}
}

func respondTranscript(w http.ResponseWriter, r *http.Request, cfg ServerConfig, path, name string, withTimestamps bool) {
	started := time.Now()
	tr, err := cfg.Transcribe(r.Context(), path)
	if err != nil {
		cfg.Logger.Warn("transcription failed", "file", name, "error", err)
		writeErr(w, err)
		return
	}
	if !withTimestamps {
		tr.Segments = []types.Segment{}
		tr.Words = []types.Word{}
	}
	WriteJSON(w, http.StatusOK, TranscriptionResponse{
		Success:        true,
		Message:        fmt.Sprintf("File '%s' transcribed successfully", name),
		Transcription:  tr,
		ProcessingTime: time.Since(started).Seconds(),
	})
}

// captionHandler streams the uploaded video straight into the caption
// service without writing it to disk. Options come from the query string so
// the file part can be consumed as soon as it arrives.
func captionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.CaptionsEnabled {
			writeErr(w, errs.New(errs.Validation, "captioning is not configured (set ZAPCAP_API_KEY)"))
			return
		}
		opts, err := captionOptions(cfg, r)
		if err != nil {
			writeErr(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+maxJSONBody)
		mr, err := r.MultipartReader()
		if err != nil {
			writeErr(w, errs.Wrap(errs.Validation, err, "expected multipart/form-data"))
			return
		}
		rules := uploadRules{MaxBytes: cfg.MaxUploadBytes, Exts: captionExtensions, MediaTypes: []string{"video/"}}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				writeErr(w, errs.New(errs.Validation, "file is required"))
				return
			}
			if err != nil {
				writeErr(w, tooLargeOr(err, cfg.MaxUploadBytes, errs.Wrap(errs.Validation, err, "malformed multipart body")))
				return
			}
			if part.FormName() != "file" {
				part.Close()
				continue
			}

			name, err := checkPart(part, rules)
			if err != nil {
				part.Close()
				writeErr(w, err)
				return
			}
			started := time.Now()
			body := http.MaxBytesReader(w, part, cfg.MaxUploadBytes)
			res, err := cfg.Caption(r.Context(), captions.NewStreamPayload(name, -1, body), opts)
			part.Close()
			if err != nil {
				cfg.Logger.Warn("direct captioning failed", "file", name, "error", err)
				writeErr(w, tooLargeOr(err, cfg.MaxUploadBytes, err))
				return
			}
			WriteJSON(w, http.StatusOK, CaptionResponse{
				Success:        true,
				Message:        fmt.Sprintf("Video '%s' processed successfully with ZapCap", name),
				Result:         res,
				ProcessingTime: time.Since(started).Seconds(),
			})
			return
		}
	}
}

func captionOptions(cfg ServerConfig, r *http.Request) (captions.Options, error) {
	q := r.URL.Query()
	opts := captions.Options{
		TemplateID: firstNonEmpty(q.Get("template_id"), cfg.DefaultTemplateID),
		Language:   firstNonEmpty(q.Get("language"), cfg.DefaultLanguage, captions.DefaultLanguage),
	}
	if !captions.SupportedLanguage(opts.Language) {
		return opts, errs.Errorf(errs.Validation, "unsupported language %q", opts.Language)
	}
	autoApprove, err := queryBool(r, "auto_approve", true)
	if err != nil {
		return opts, err
	}
	opts.AutoApprove = autoApprove
	return opts, nil
}

func formatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp FormatsResponse
		resp.Transcription.Audio = sortedKeys(audioExtensions)
		resp.Transcription.Video = sortedKeys(videoExtensions)
		resp.Clips.Video = sortedKeys(videoExtensions)
		resp.Clips.Platforms = supportedPlatforms
		resp.Clips.AspectRatios = render.SupportedAspects
		resp.Captions.Enabled = cfg.CaptionsEnabled
		resp.Captions.Video = sortedKeys(captionExtensions)
		resp.Captions.Languages = captions.Languages
		resp.MaxFileSize = humanize.Bytes(uint64(cfg.MaxUploadBytes))
		resp.MaxFileSizeBytes = cfg.MaxUploadBytes
		WriteJSON(w, http.StatusOK, resp)
	}
}

func queryBool(r *http.Request, key string, def bool) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.Errorf(errs.Validation, "invalid %s %q", key, v)
	}
	return b, nil
}

// tooLargeOr reports a body that hit the upload limit as such and returns
// fallback otherwise.
func tooLargeOr(err error, limit int64, fallback error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errTooLarge(limit)
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]bool) []string {
	return slices.Sorted(maps.Keys(m))
}

func union(sets ...map[string]bool) map[string]bool {
	out := map[string]bool{}
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}
