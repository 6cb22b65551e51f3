package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/types"
)

func TestDispatcher_RecordsOutcomes(t *testing.T) {
	reg := NewMemoryRegistry()
	d := NewDispatcher(context.Background(), reg, 2, nil)
	ctx := context.Background()

	ok, err := d.Submit(ctx, TypeFile, nil, func(context.Context, string) (types.PipelineReport, error) {
		return types.PipelineReport{Success: true, Message: "Successfully created 2 clips"}, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	failed, _ := d.Submit(ctx, TypeFile, nil, func(context.Context, string) (types.PipelineReport, error) {
		return types.PipelineReport{}, errs.New(errs.ContentAnalysis, "no suitable clip segments found")
	})
	panicked, _ := d.Submit(ctx, TypeFile, nil, func(context.Context, string) (types.PipelineReport, error) {
		panic("kaboom")
	})
	d.Wait()

	got, _ := reg.Get(ctx, ok.ID)
	if got.Status != StatusCompleted || got.Result == nil || got.Result.Message != "Successfully created 2 clips" {
		t.Fatalf("unexpected completed task: %+v", got)
	}
	got, _ = reg.Get(ctx, failed.ID)
	if got.Status != StatusFailed || got.ErrorKind != string(errs.ContentAnalysis) {
		t.Fatalf("unexpected failed task: %+v", got)
	}
	got, _ = reg.Get(ctx, panicked.ID)
	if got.Status != StatusFailed || got.Error == "" {
		t.Fatalf("unexpected panicked task: %+v", got)
	}
}

func TestDispatcher_PassesTaskIDAndLimitsConcurrency(t *testing.T) {
	reg := NewMemoryRegistry()
	d := NewDispatcher(context.Background(), reg, 2, nil)

	var running, peak atomic.Int32
	seen := make(chan string, 6)
	for range 6 {
		_, err := d.Submit(context.Background(), TypeURL, nil, func(_ context.Context, id string) (types.PipelineReport, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			seen <- id
			return types.PipelineReport{Success: true}, nil
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	d.Wait()
	close(seen)

	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency %d exceeds limit", p)
	}
	for id := range seen {
		if _, err := reg.Get(context.Background(), id); err != nil {
			t.Fatalf("job got unknown task id %q", id)
		}
	}
}

func TestDispatcher_SubmitReturnsPendingTask(t *testing.T) {
	reg := NewMemoryRegistry()
	d := NewDispatcher(context.Background(), reg, 1, nil)
	release := make(chan struct{})

	task, err := d.Submit(context.Background(), TypeUpload, map[string]string{"filename": "a.mp4"}, func(context.Context, string) (types.PipelineReport, error) {
		<-release
		return types.PipelineReport{Success: true}, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Status != StatusPending || task.Metadata["filename"] != "a.mp4" {
		t.Fatalf("unexpected submitted task: %+v", task)
	}
	close(release)
	d.Wait()
}
