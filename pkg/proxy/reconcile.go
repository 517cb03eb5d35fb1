package proxy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/jobsync/internal/metrics"
	"github.com/3leaps/jobsync/pkg/jobregistry"
	"github.com/3leaps/jobsync/pkg/scheduler"
)

// ReconcileSummary reports one reconciliation pass.
type ReconcileSummary struct {
	Jobs           int           `json:"jobs"`
	Removed        int           `json:"removed"`
	TasksRemoved   int           `json:"tasks_removed"`
	TaskEvents     int           `json:"task_events"`
	JobEvents      int           `json:"job_events"`
	PermissionKept int           `json:"permission_kept"`
	ConnectionKept int           `json:"connection_kept"`
	Duration       time.Duration `json:"duration"`
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// RateLimit caps scheduler queries per second. Zero means unlimited.
	RateLimit float64

	// Timeout bounds the scheduler queries for one job. Zero means none.
	Timeout time.Duration

	Logger *zap.Logger
}

// Reconciler replays the scheduler's authoritative state through the bridge
// for every awaited job.
//
// It relies on the bridge's guards to be idempotent: a task that is
// transferring or already transferred is skipped, so consecutive passes over
// an unchanged registry start no second transfer.
type Reconciler struct {
	sched    scheduler.Scheduler
	registry *jobregistry.Registry
	bridge   *Bridge
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(sched scheduler.Scheduler, registry *jobregistry.Registry, bridge *Bridge, cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Reconciler{
		sched:    sched,
		registry: registry,
		bridge:   bridge,
		limiter:  limiter,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Run reconciles every awaited job. Per-job failures are logged and counted;
// Run returns an error only when ctx ends.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileSummary, error) {
	start := time.Now()
	sum := &ReconcileSummary{}
	ids := r.registry.ListIDs()
	r.logger.Debug("Reconciling awaited jobs", zap.Int("jobs", len(ids)))

	for _, id := range ids {
		if err := r.limiter.Wait(ctx); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		sum.Jobs++
		outcome := r.reconcileJob(ctx, id, sum)
		metrics.ReconcileJobs.WithLabelValues(outcome).Inc()
	}

	sum.Duration = time.Since(start)
	r.logger.Info("Reconciliation complete",
		zap.Int("jobs", sum.Jobs),
		zap.Int("removed", sum.Removed),
		zap.Int("task_events", sum.TaskEvents),
		zap.Int("job_events", sum.JobEvents),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (r *Reconciler) reconcileJob(ctx context.Context, jobID string, sum *ReconcileSummary) string {
	qctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	state, err := r.sched.JobState(qctx, jobID)
	if err == nil && state == nil {
		err = &scheduler.Error{Op: "JobState", JobID: jobID, Err: fmt.Errorf("%w: empty job state", scheduler.ErrConnection)}
	}
	if err != nil {
		return r.jobError(ctx, jobID, err, sum)
	}

	job, ok := r.registry.Get(jobID)
	if !ok {
		return "gone"
	}

	for _, name := range job.TaskNames() {
		t := job.Task(name)
		if t.Transferring || t.Transferred {
			continue
		}
		ts := state.Tasks[name]

		// Tasks the scheduler reports as having produced nothing are dropped
		// without asking for a result.
		if ts.Status.WithoutOutput() {
			r.bridge.Handle(ctx, &scheduler.TaskEvent{JobID: jobID, TaskName: name, TaskID: ts.TaskID, Status: ts.Status, Synthetic: true})
			sum.TaskEvents++
			continue
		}

		res, err := r.sched.TaskResult(qctx, jobID, name)
		switch {
		case scheduler.IsUnknownTask(err):
			if r.removeTask(ctx, jobID, name) {
				sum.TasksRemoved++
			}
			continue
		case scheduler.IsUnknownJob(err):
			return r.jobError(ctx, jobID, err, sum)
		case scheduler.IsPermission(err):
			r.logger.Warn("Not permitted to read task result; keeping task awaited",
				zap.String("job_id", jobID),
				zap.String("task_name", name),
				zap.Error(err),
			)
			continue
		case err != nil:
			r.logger.Error("Task result unavailable; keeping task awaited until the next reconciliation",
				zap.String("job_id", jobID),
				zap.String("task_name", name),
				zap.Error(err),
			)
			continue
		case res == nil:
			continue
		}

		status := scheduler.TaskFinished
		if res.HadException {
			status = scheduler.TaskFaulty
		}
		taskID := ts.TaskID
		if taskID == "" {
			taskID = res.TaskID
		}
		r.bridge.Handle(ctx, &scheduler.TaskEvent{JobID: jobID, TaskName: name, TaskID: taskID, Status: status, Synthetic: true})
		sum.TaskEvents++
	}

	if state.Status.IsTerminal() {
		r.bridge.Handle(ctx, &scheduler.JobEvent{JobID: jobID, Status: state.Status, Synthetic: true})
		sum.JobEvents++
		if state.Status.IsUnrecoverable() {
			sum.Removed++
			return "removed"
		}
	}
	return "ok"
}

func (r *Reconciler) jobError(ctx context.Context, jobID string, err error, sum *ReconcileSummary) string {
	switch {
	case scheduler.IsUnknownJob(err):
		pullURL := ""
		if job, ok := r.registry.Get(jobID); ok {
			pullURL = job.PullURL
		}
		if rerr := r.registry.Remove(ctx, jobID); rerr != nil {
			r.logger.Error("Failed to remove unknown job",
				zap.String("job_id", jobID),
				zap.Error(rerr),
			)
			return "error"
		}
		sum.Removed++
		r.logger.Warn("Scheduler no longer knows job; removed from awaited jobs. Output may still be retrieved manually",
			zap.String("job_id", jobID),
			zap.String("pull_url", pullURL),
		)
		return "unknown_job"
	case scheduler.IsPermission(err):
		sum.PermissionKept++
		r.logger.Warn("Not permitted to query job; keeping it awaited",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return "permission"
	default:
		sum.ConnectionKept++
		r.logger.Error("Failed to query job; keeping it awaited until the next reconciliation",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return "connection"
	}
}

func (r *Reconciler) removeTask(ctx context.Context, jobID, taskName string) bool {
	removed := false
	_, err := r.registry.Update(ctx, jobID, func(job *jobregistry.AwaitedJob) error {
		if !job.RemoveTask(taskName) {
			return jobregistry.ErrNoChange
		}
		removed = true
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to remove unknown task",
			zap.String("job_id", jobID),
			zap.String("task_name", taskName),
			zap.Error(err),
		)
		return false
	}
	r.logger.Warn("Scheduler no longer knows task; removed from awaited job",
		zap.String("job_id", jobID),
		zap.String("task_name", taskName),
	)
	return removed
}
