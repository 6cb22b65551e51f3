package ports

import (
	"context"
	"io"

	"github.com/forPelevin/autoclip/internal/types"
)

type MediaProber interface {
	Probe(ctx context.Context, path string) (types.MediaInfo, error)
}

type AudioTool interface {
	// ExtractAudio writes a mono 16kHz 16-bit PCM wav of videoPath to outPath.
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
	// CutAudio writes the [start, end) window of inPath to outPath in the same format.
	CutAudio(ctx context.Context, inPath, outPath string, start, end float64) error
	AudioDuration(ctx context.Context, path string) (float64, error)
}

type EncodeRequest struct {
	Input     string
	Output    string
	Start     float64
	End       float64
	Filter    string
	Preset    string
	CRF       int
	KeepAudio bool
}

type ClipEncoder interface {
	EncodeClip(ctx context.Context, req EncodeRequest) error
}

// SpeechToText transcribes one audio file. Timestamps are relative to the
// start of that file.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioPath string) (types.Transcript, error)
}

type TextGenerator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Downloader interface {
	Download(ctx context.Context, url, dir string) (types.Download, error)
}

type UploadSession struct {
	UploadID string
	VideoID  string
	PartURLs []string
}

type UploadedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type CompleteUpload struct {
	UploadID     string
	VideoID      string
	Filename     string
	ContentType  string
	OriginalSize int64
	Parts        []UploadedPart
}

type CaptionTask struct {
	TemplateID  string
	Language    string
	AutoApprove bool
}

type CaptionStatus struct {
	Status      string
	DownloadURL string
	Error       string
}

// CaptionAPI is the remote captioning service.
type CaptionAPI interface {
	UploadVideo(ctx context.Context, filename, contentType string, data []byte) (videoID string, err error)
	CreateUpload(ctx context.Context, filename, contentType string, partSizes []int64) (UploadSession, error)
	UploadPart(ctx context.Context, url, contentType string, data []byte) (etag string, err error)
	CompleteUpload(ctx context.Context, req CompleteUpload) error
	VideoExists(ctx context.Context, videoID string) (bool, error)
	CreateTask(ctx context.Context, videoID string, task CaptionTask) (taskID string, err error)
	TaskStatus(ctx context.Context, videoID, taskID string) (CaptionStatus, error)
	Download(ctx context.Context, url string, w io.Writer) error
}
