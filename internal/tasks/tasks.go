// Package tasks tracks background pipeline jobs: their status, metadata and
// final report.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/forPelevin/autoclip/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	TypeUpload = "upload"
	TypeURL    = "url"
	TypeFile   = "file"
)

var ErrNotFound = errors.New("task not found")

type Task struct {
	ID        string                `json:"task_id"`
	Type      string                `json:"task_type"`
	Status    Status                `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
	Result    *types.PipelineReport `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
}

// Registry stores tasks. Implementations are safe for concurrent use.
type Registry interface {
	Create(ctx context.Context, taskType string, meta map[string]string) (Task, error)
	SetStatus(ctx context.Context, id string, status Status) error
	Complete(ctx context.Context, id string, report types.PipelineReport) error
	Fail(ctx context.Context, id, kind, msg string) error
	Get(ctx context.Context, id string) (Task, error)
	// List returns tasks newest first, optionally filtered by type.
	List(ctx context.Context, taskType string) ([]Task, error)
}
