package api

import (
	"time"

	"github.com/forPelevin/autoclip/internal/tasks"
	"github.com/forPelevin/autoclip/internal/types"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ClipOptions are the per-job knobs shared by every clip endpoint.
type ClipOptions struct {
	UseZapcap        bool   `json:"use_zapcap"`
	ZapcapTemplateID string `json:"zapcap_template_id,omitempty"`
	ZapcapLanguage   string `json:"zapcap_language,omitempty"`
	AspectRatio      string `json:"aspect_ratio,omitempty"`
	MaxClips         int    `json:"max_clips,omitempty"`
}

type ClipFromURLRequest struct {
	URL string `json:"url"`
	ClipOptions
}

type ClipFromFileRequest struct {
	FilePath string `json:"file_path"`
	ClipOptions
}

type TaskCreatedResponse struct {
	TaskID  string       `json:"task_id"`
	Status  tasks.Status `json:"status"`
	Message string       `json:"message"`
}

type TaskResponse struct {
	TaskID    string                `json:"task_id"`
	TaskType  string                `json:"task_type"`
	Status    tasks.Status          `json:"status"`
	CreatedAt string                `json:"created_at"`
	UpdatedAt string                `json:"updated_at"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
	Result    *types.PipelineReport `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
}

type TasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

func TaskToResponse(t tasks.Task) TaskResponse {
	return TaskResponse{
		TaskID:    t.ID,
		TaskType:  t.Type,
		Status:    t.Status,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
		Metadata:  t.Metadata,
		Result:    t.Result,
		Error:     t.Error,
		ErrorKind: t.ErrorKind,
	}
}

type DependenciesResponse struct {
	Dependencies map[string]bool `json:"dependencies"`
	AllOK        bool            `json:"all_ok"`
	Message      string          `json:"message"`
}

type TranscribeRequest struct {
	FilePath string `json:"file_path"`
	// IncludeTimestamps defaults to true.
	IncludeTimestamps *bool `json:"include_timestamps,omitempty"`
}

type TranscriptionResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	Transcription  types.Transcript `json:"transcription"`
	ProcessingTime float64          `json:"processing_time"`
}

type CaptionResponse struct {
	Success        bool                `json:"success"`
	Message        string              `json:"message"`
	Result         types.CaptionResult `json:"zapcap_result"`
	ProcessingTime float64             `json:"processing_time"`
}

type FormatsResponse struct {
	Transcription struct {
		Audio []string `json:"audio"`
		Video []string `json:"video"`
	} `json:"transcription"`
	Clips struct {
		Video        []string `json:"video"`
		Platforms    []string `json:"platforms"`
		AspectRatios []string `json:"aspect_ratios"`
	} `json:"clips"`
	Captions struct {
		Enabled   bool     `json:"enabled"`
		Video     []string `json:"video"`
		Languages []string `json:"languages"`
	} `json:"zapcap"`
	MaxFileSize      string `json:"max_file_size"`
	MaxFileSizeBytes int64  `json:"max_file_size_bytes"`
}
