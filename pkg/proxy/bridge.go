package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/jobsync/pkg/dataspace"
	"github.com/3leaps/jobsync/pkg/jobregistry"
	"github.com/3leaps/jobsync/pkg/scheduler"
	"github.com/3leaps/jobsync/pkg/transfer"
)

// Bridge turns scheduler notifications into registry updates and output
// transfers, then re-broadcasts them.
//
// Handle runs on the scheduler's delivery path: it only touches the registry
// and enqueues work; downloads run on the executor.
type Bridge struct {
	registry *jobregistry.Registry
	executor *transfer.Executor
	space    dataspace.Client
	fanout   *Fanout
	logger   *zap.Logger

	inflight sync.WaitGroup
}

// NewBridge wires a bridge.
func NewBridge(registry *jobregistry.Registry, executor *transfer.Executor, space dataspace.Client, fanout *Fanout, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		registry: registry,
		executor: executor,
		space:    space,
		fanout:   fanout,
		logger:   logger,
	}
}

// Handle processes one event. It never fails: errors and panics are logged.
// Its signature matches scheduler.EventHandler.
func (b *Bridge) Handle(ctx context.Context, ev scheduler.Event) {
	if ev == nil {
		return
	}
	if err := b.dispatch(ctx, ev); err != nil {
		b.logger.Error("Event handling failed",
			zap.String("event", string(ev.Kind())),
			zap.String("job_id", ev.JobRef()),
			zap.Error(err),
		)
	}
	b.fanout.Deliver(ctx, ev)
}

func (b *Bridge) dispatch(ctx context.Context, ev scheduler.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch e := ev.(type) {
	case *scheduler.JobEvent:
		return b.onJob(ctx, e)
	case *scheduler.TaskEvent:
		return b.onTask(ctx, e)
	case *scheduler.TransferEvent:
		// Produced here; nothing to update.
		return nil
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (b *Bridge) onJob(ctx context.Context, e *scheduler.JobEvent) error {
	if !e.Status.IsUnrecoverable() {
		return nil
	}
	if !b.registry.Contains(e.JobID) {
		return nil
	}
	if err := b.registry.Remove(ctx, e.JobID); err != nil {
		return err
	}
	b.logger.Info("Job no longer awaited",
		zap.String("job_id", e.JobID),
		zap.String("status", e.Status.String()),
	)
	return nil
}

func (b *Bridge) onTask(ctx context.Context, e *scheduler.TaskEvent) error {
	switch {
	case e.Status.WithoutOutput():
		return b.dropTask(ctx, e)
	case e.Status == scheduler.TaskRunning:
		return b.bindTaskID(ctx, e)
	case e.Status.ProducedOutput():
		return b.startDownload(ctx, e)
	default:
		return nil
	}
}

func (b *Bridge) dropTask(ctx context.Context, e *scheduler.TaskEvent) error {
	removed := false
	_, err := b.registry.Update(ctx, e.JobID, func(job *jobregistry.AwaitedJob) error {
		if !job.RemoveTask(e.TaskName) {
			return jobregistry.ErrNoChange
		}
		removed = true
		return nil
	})
	if err != nil {
		return err
	}
	if removed {
		b.logger.Debug("Task produced no output; no longer awaited",
			zap.String("job_id", e.JobID),
			zap.String("task_name", e.TaskName),
			zap.String("status", e.Status.String()),
		)
	}
	return nil
}

func (b *Bridge) bindTaskID(ctx context.Context, e *scheduler.TaskEvent) error {
	if e.TaskID == "" {
		return nil
	}
	_, err := b.registry.Update(ctx, e.JobID, func(job *jobregistry.AwaitedJob) error {
		t := job.Task(e.TaskName)
		if t == nil || t.TaskID != "" {
			return jobregistry.ErrNoChange
		}
		t.TaskID = e.TaskID
		return nil
	})
	return err
}

// startDownload claims the task's transferring flag and enqueues the
// download. A task that is already transferring or transferred is left alone,
// so duplicate and replayed events never start a second transfer.
func (b *Bridge) startDownload(ctx context.Context, e *scheduler.TaskEvent) error {
	var claimed *jobregistry.AwaitedJob
	_, err := b.registry.Update(ctx, e.JobID, func(job *jobregistry.AwaitedJob) error {
		t := job.Task(e.TaskName)
		if t == nil || !job.AutomaticTransfer || t.Transferring || t.Transferred {
			return jobregistry.ErrNoChange
		}
		if t.TaskID == "" {
			t.TaskID = e.TaskID
		}
		t.Transferring = true
		claimed = job.Clone()
		return nil
	})
	if err != nil || claimed == nil {
		return err
	}

	task := claimed.Task(e.TaskName)
	src, err := outputSource(claimed.PullURL, claimed.IsolateTaskOutputs, task.TaskID)
	if err != nil {
		b.failDownload(ctx, claimed, e.TaskName, src, err)
		return nil
	}
	dst := claimed.LocalOutputFolder
	if dst == "" {
		b.failDownload(ctx, claimed, e.TaskName, src, fmt.Errorf("%w: job has no local output folder", ErrInvalidOptions))
		return nil
	}

	files := 0
	selectors := append([]string(nil), task.OutputSelectors...)
	ch, err := b.executor.Enqueue(ctx, transfer.Work{
		Op:          transfer.OpDownload,
		JobID:       claimed.JobID,
		TaskName:    e.TaskName,
		Source:      src,
		Destination: dst,
		Run: func(ctx context.Context) error {
			n, err := b.space.Download(ctx, src, selectors, dst)
			files = n
			return err
		},
	})
	if err != nil {
		// Nothing was started; release the claim for a later session.
		b.releaseClaim(ctx, claimed.JobID, e.TaskName)
		return fmt.Errorf("enqueue download for job %s task %s: %w", claimed.JobID, e.TaskName, err)
	}

	b.logger.Debug("Output download enqueued",
		zap.String("job_id", claimed.JobID),
		zap.String("task_name", e.TaskName),
		zap.String("source", src),
		zap.String("destination", dst),
	)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		err := <-ch
		b.finishDownload(context.WithoutCancel(ctx), claimed, e.TaskName, src, files, err)
	}()
	return nil
}

func (b *Bridge) finishDownload(ctx context.Context, job *jobregistry.AwaitedJob, taskName, src string, files int, err error) {
	if err != nil {
		b.failDownload(ctx, job, taskName, src, err)
		return
	}

	_, uerr := b.registry.Update(ctx, job.JobID, func(j *jobregistry.AwaitedJob) error {
		t := j.Task(taskName)
		if t == nil {
			return jobregistry.ErrNoChange
		}
		t.Transferring = false
		t.Transferred = true
		return nil
	})
	if uerr != nil {
		b.logger.Error("Failed to record completed download",
			zap.String("job_id", job.JobID),
			zap.String("task_name", taskName),
			zap.Error(uerr),
		)
	}
	b.logger.Info("Task output downloaded",
		zap.String("job_id", job.JobID),
		zap.String("task_name", taskName),
		zap.String("destination", job.LocalOutputFolder),
		zap.Int("files", files),
	)
	b.fanout.Deliver(ctx, &scheduler.TransferEvent{
		Direction:   scheduler.DirectionDownload,
		JobID:       job.JobID,
		TaskName:    taskName,
		Source:      src,
		Destination: job.LocalOutputFolder,
		Files:       files,
	})
}

// failDownload drops the task: there is no automatic retry.
func (b *Bridge) failDownload(ctx context.Context, job *jobregistry.AwaitedJob, taskName, src string, err error) {
	if !transfer.IsTransferError(err) {
		err = &transfer.TransferError{
			Op:          transfer.OpDownload,
			JobID:       job.JobID,
			TaskName:    taskName,
			Source:      src,
			Destination: job.LocalOutputFolder,
			Err:         err,
		}
	}
	_, uerr := b.registry.Update(ctx, job.JobID, func(j *jobregistry.AwaitedJob) error {
		if !j.RemoveTask(taskName) {
			return jobregistry.ErrNoChange
		}
		return nil
	})
	b.logger.Error("Task output download failed; task no longer awaited",
		zap.String("job_id", job.JobID),
		zap.String("task_name", taskName),
		zap.String("pull_url", src),
		zap.String("code", transfer.Classify(err)),
		zap.Error(errors.Join(err, uerr)),
	)
	b.fanout.Deliver(ctx, &scheduler.TransferEvent{
		Direction:   scheduler.DirectionDownload,
		JobID:       job.JobID,
		TaskName:    taskName,
		Source:      src,
		Destination: job.LocalOutputFolder,
		Err:         err,
	})
}

func (b *Bridge) releaseClaim(ctx context.Context, jobID, taskName string) {
	_, err := b.registry.Update(ctx, jobID, func(j *jobregistry.AwaitedJob) error {
		t := j.Task(taskName)
		if t == nil || !t.Transferring {
			return jobregistry.ErrNoChange
		}
		t.Transferring = false
		return nil
	})
	if err != nil {
		b.logger.Warn("Failed to release transfer claim",
			zap.String("job_id", jobID),
			zap.String("task_name", taskName),
			zap.Error(err),
		)
	}
}

// Wait blocks until every enqueued download has been recorded.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}
