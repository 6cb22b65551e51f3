// Package captions runs rendered clips through the remote captioning service.
// Each clip goes through its own upload, submit, poll and download sequence;
// clips run concurrently and fail independently.
package captions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/types"
)

const (
	DefaultSimpleUploadLimit int64 = 10 * 1024 * 1024
	DefaultPartSize          int64 = 10 * 1024 * 1024
	DefaultPollInterval            = 5 * time.Second
	DefaultTimeout                 = 600 * time.Second
	DefaultPartConcurrency         = 5
	DefaultLanguage                = "en"
)

type Status string

const (
	StatusUploading  Status = "uploading"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timedOut"
)

var ErrTimedOut = errors.New("caption task timed out")

// Languages are the caption languages the service accepts.
var Languages = []string{"en", "id", "es", "fr", "de", "pt", "it", "nl", "ru", "ja", "ko", "zh-CN", "zh-TW"}

func SupportedLanguage(lang string) bool {
	return slices.Contains(Languages, lang)
}

type Config struct {
	ResultsDir        string
	PollInterval      time.Duration
	Timeout           time.Duration
	SimpleUploadLimit int64
	PartSize          int64
	PartConcurrency   int
}

type Options struct {
	TemplateID  string
	Language    string
	AutoApprove bool
}

type Client struct {
	api    ports.CaptionAPI
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(api ports.CaptionAPI, cfg Config, logger *slog.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SimpleUploadLimit <= 0 {
		cfg.SimpleUploadLimit = DefaultSimpleUploadLimit
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = DefaultPartSize
	}
	if cfg.PartConcurrency <= 0 {
		cfg.PartConcurrency = DefaultPartConcurrency
	}
	return &Client{api: api, cfg: cfg, logger: logging.WithComponent(logger, "captions"), now: time.Now}
}

// job is the per-clip state machine.
type job struct {
	ordinal int
	videoID string
	taskID  string
	status  Status
	logger  *slog.Logger
}

func (j *job) enter(s Status) {
	j.status = s
	j.logger.Debug("caption state", "status", string(s), "video_id", j.videoID, "task_id", j.taskID)
}

// Caption runs one clip through the service and stores the captioned video
// under the results dir.
func (c *Client) Caption(ctx context.Context, ordinal int, clipPath string, opts Options) (types.CaptionResult, error) {
	payload, err := LoadFile(clipPath)
	if err != nil {
		return types.CaptionResult{}, errs.Wrap(errs.Storage, err, "read clip")
	}
	return c.run(ctx, &job{ordinal: ordinal, logger: c.logger.With("clip", ordinal)}, payload, opts)
}

// CaptionPayload captions a single video that is not one of a job's clips,
// such as an upload streamed straight from a request.
func (c *Client) CaptionPayload(ctx context.Context, p Payload, opts Options) (types.CaptionResult, error) {
	return c.run(ctx, &job{logger: c.logger.With("file", p.Filename())}, p, opts)
}

func (c *Client) run(ctx context.Context, j *job, payload Payload, opts Options) (types.CaptionResult, error) {
	started := c.now()

	j.enter(StatusUploading)
	videoID, err := c.Upload(ctx, payload)
	if err != nil {
		j.enter(StatusFailed)
		return types.CaptionResult{}, errs.Wrap(errs.Caption, err, "upload")
	}
	j.videoID = videoID

	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	taskID, err := c.api.CreateTask(ctx, videoID, ports.CaptionTask{
		TemplateID:  opts.TemplateID,
		Language:    opts.Language,
		AutoApprove: opts.AutoApprove,
	})
	if err != nil {
		j.enter(StatusFailed)
		return types.CaptionResult{}, errs.Wrap(errs.Caption, err, "create task")
	}
	j.taskID = taskID
	j.enter(StatusQueued)

	url, err := c.wait(ctx, j)
	if err != nil {
		return types.CaptionResult{}, errs.Wrap(errs.Caption, err, fmt.Sprintf("task %s", taskID))
	}

	path, err := c.download(ctx, url, payload.Filename())
	if err != nil {
		return types.CaptionResult{}, errs.Wrap(errs.Caption, err, "download")
	}
	j.enter(StatusCompleted)

	res := types.CaptionResult{
		VideoID:        videoID,
		TaskID:         taskID,
		CaptionedPath:  path,
		CaptionedName:  filepath.Base(path),
		ProcessingTime: c.now().Sub(started).Seconds(),
	}
	j.logger.Info("video captioned", "path", path, "seconds", res.ProcessingTime)
	return res, nil
}

// Upload sends small payloads in one request and larger ones as a multipart
// upload. It returns the service's video id.
func (c *Client) Upload(ctx context.Context, p Payload) (string, error) {
	data, err := p.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	ct := ContentType(p.Filename())
	size := int64(len(data))
	if size <= c.cfg.SimpleUploadLimit {
		c.logger.Debug("simple upload", "file", p.Filename(), "size", humanize.Bytes(uint64(size)))
		return c.api.UploadVideo(ctx, p.Filename(), ct, data)
	}
	return c.uploadMultipart(ctx, p.Filename(), ct, data)
}

func (c *Client) uploadMultipart(ctx context.Context, name, ct string, data []byte) (string, error) {
	size := int64(len(data))
	n := int((size + c.cfg.PartSize - 1) / c.cfg.PartSize)
	sizes := make([]int64, n)
	for i := range sizes {
		sizes[i] = min(c.cfg.PartSize, size-int64(i)*c.cfg.PartSize)
	}
	c.logger.Info("multipart upload", "file", name, "size", humanize.Bytes(uint64(size)), "parts", n)

	sess, err := c.api.CreateUpload(ctx, name, ct, sizes)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if len(sess.PartURLs) < n {
		return "", fmt.Errorf("create upload: got %d part urls for %d parts", len(sess.PartURLs), n)
	}

	parts := make([]ports.UploadedPart, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PartConcurrency)
	for i := range n {
		lo := int64(i) * c.cfg.PartSize
		hi := lo + sizes[i]
		g.Go(func() error {
			etag, err := c.api.UploadPart(gctx, sess.PartURLs[i], ct, data[lo:hi])
			if err != nil {
				return fmt.Errorf("part %d: %w", i+1, err)
			}
			parts[i] = ports.UploadedPart{PartNumber: i + 1, ETag: strings.Trim(etag, `"`)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	err = c.api.CompleteUpload(ctx, ports.CompleteUpload{
		UploadID:     sess.UploadID,
		VideoID:      sess.VideoID,
		Filename:     name,
		ContentType:  ct,
		OriginalSize: size,
		Parts:        parts,
	})
	if err == nil {
		return sess.VideoID, nil
	}
	// Finalize can report failure for an upload the service already accepted.
	exists, existsErr := c.api.VideoExists(ctx, sess.VideoID)
	if existsErr == nil && exists {
		c.logger.Warn("complete upload failed but video exists", "video_id", sess.VideoID, "error", err)
		return sess.VideoID, nil
	}
	return "", fmt.Errorf("complete upload: %w", err)
}

// wait polls the task until it completes, fails or the timeout elapses, and
// returns the download URL.
func (c *Client) wait(ctx context.Context, j *job) (string, error) {
	deadline := c.now().Add(c.cfg.Timeout)
	for {
		st, err := c.api.TaskStatus(ctx, j.videoID, j.taskID)
		if err != nil {
			j.enter(StatusFailed)
			return "", fmt.Errorf("status: %w", err)
		}
		switch strings.ToLower(st.Status) {
		case "completed":
			if st.DownloadURL == "" {
				j.enter(StatusFailed)
				return "", errors.New("completed without download url")
			}
			return st.DownloadURL, nil
		case "failed":
			j.enter(StatusFailed)
			msg := st.Error
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("captioning failed: %s", msg)
		case "pending", "transcribing", "processing":
			if j.status != StatusProcessing {
				j.enter(StatusProcessing)
			}
		default:
			j.logger.Warn("unknown caption status", "status", st.Status)
		}

		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			j.enter(StatusTimedOut)
			return "", fmt.Errorf("%w after %s", ErrTimedOut, c.cfg.Timeout)
		}
		timer := time.NewTimer(min(c.cfg.PollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			j.enter(StatusFailed)
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// download stores the result as <source name>_captioned_<unix ts><ext>.
func (c *Client) download(ctx context.Context, url, sourceName string) (string, error) {
	if err := os.MkdirAll(c.cfg.ResultsDir, 0o755); err != nil {
		return "", err
	}
	sourceName = filepath.Base(sourceName)
	ext := filepath.Ext(sourceName)
	if ext == "" {
		ext = ".mp4"
	}
	base := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	stem := fmt.Sprintf("%s_captioned_%d", base, c.now().Unix())

	f, path, err := createUnique(c.cfg.ResultsDir, stem, ext)
	if err != nil {
		return "", err
	}
	if err := c.api.Download(ctx, url, f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func createUnique(dir, stem, ext string) (*os.File, string, error) {
	for i := 0; ; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) || i >= 100 {
			return nil, "", err
		}
	}
}
