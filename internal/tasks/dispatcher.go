package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/types"
)

// Job is one pipeline run. The task id is passed for log correlation.
type Job func(ctx context.Context, taskID string) (types.PipelineReport, error)

// Dispatcher runs jobs in the background and records their lifecycle in a
// Registry. Jobs run on the dispatcher's own context, never on the request
// that submitted them.
type Dispatcher struct {
	reg    Registry
	sem    *semaphore.Weighted
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(ctx context.Context, reg Registry, maxConcurrent int64, logger *slog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		reg:    reg,
		sem:    semaphore.NewWeighted(maxConcurrent),
		ctx:    ctx,
		logger: logging.WithComponent(logger, "dispatcher"),
	}
}

// Submit registers a pending task and starts job for it.
func (d *Dispatcher) Submit(ctx context.Context, taskType string, meta map[string]string, job Job) (Task, error) {
	t, err := d.reg.Create(ctx, taskType, meta)
	if err != nil {
		return Task{}, errs.Wrap(errs.Storage, err, "create task")
	}
	d.wg.Add(1)
	go d.run(t.ID, job)
	return t, nil
}

// Wait blocks until every submitted job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(id string, job Job) {
	defer d.wg.Done()
	log := logging.WithTaskID(d.logger, id)

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		d.fail(id, fmt.Errorf("dispatcher stopped before task started: %w", err), log)
		return
	}
	defer d.sem.Release(1)

	if err := d.reg.SetStatus(context.WithoutCancel(d.ctx), id, StatusProcessing); err != nil {
		log.Error("mark task processing", "error", err)
	}
	log.Info("task started")

	report, err := d.safeRun(id, job)
	if err != nil {
		d.fail(id, err, log)
		return
	}
	if err := d.reg.Complete(context.WithoutCancel(d.ctx), id, report); err != nil {
		log.Error("store task result", "error", err)
		return
	}
	log.Info("task completed", "clips", len(report.Clips))
}

func (d *Dispatcher) safeRun(id string, job Job) (report types.PipelineReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return job(d.ctx, id)
}

func (d *Dispatcher) fail(id string, err error, log *slog.Logger) {
	kind := string(errs.KindOf(err))
	log.Warn("task failed", "kind", kind, "error", err)
	if err := d.reg.Fail(context.WithoutCancel(d.ctx), id, kind, err.Error()); err != nil {
		log.Error("store task failure", "error", err)
	}
}
