package tasks

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/autoclip/internal/types"
)

type MemoryRegistry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tasks: map[string]*Task{}, now: time.Now}
}

func (r *MemoryRegistry) Create(_ context.Context, taskType string, meta map[string]string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  maps.Clone(meta),
	}
	r.tasks[t.ID] = t
	return snapshot(t), nil
}

func (r *MemoryRegistry) SetStatus(_ context.Context, id string, status Status) error {
	return r.update(id, func(t *Task) { t.Status = status })
}

func (r *MemoryRegistry) Complete(_ context.Context, id string, report types.PipelineReport) error {
	return r.update(id, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = &report
	})
}

func (r *MemoryRegistry) Fail(_ context.Context, id, kind, msg string) error {
	return r.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = msg
		t.ErrorKind = kind
	})
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return snapshot(t), nil
}

func (r *MemoryRegistry) List(_ context.Context, taskType string) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if taskType == "" || t.Type == taskType {
			out = append(out, snapshot(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRegistry) update(id string, fn func(*Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	fn(t)
	t.UpdatedAt = r.now().UTC()
	return nil
}

// snapshot copies a task so callers never share the registry's maps.
func snapshot(t *Task) Task {
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	return c
}
