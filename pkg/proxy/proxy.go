// Package proxy is the client-side job tracking and data-synchronization
// layer: it stages job data spaces, submits jobs, remembers which jobs still
// have output to retrieve, transfers that output as tasks finish and
// reconciles its memory with the scheduler after restarts and reconnects.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobsync/pkg/dataspace"
	"github.com/3leaps/jobsync/pkg/jobregistry"
	"github.com/3leaps/jobsync/pkg/scheduler"
	"github.com/3leaps/jobsync/pkg/transfer"
)

// Options configures a Proxy.
type Options struct {
	// Scheduler is the remote scheduler. Nil runs the proxy offline: the
	// registry and manual pulls work, submission and reconnection do not.
	Scheduler scheduler.Scheduler

	// DataSpace reads and writes data spaces. Defaults to a provider-backed
	// client with default settings.
	DataSpace dataspace.Client

	// Dir holds the registry databases. Defaults to jobregistry.DefaultDir().
	Dir string

	// SessionName namespaces the registry. Defaults to
	// jobregistry.DefaultSessionName.
	SessionName string

	// Identity prefixes per-submission folder names.
	Identity string

	// PushURL and PullURL are the default data-space roots for submissions.
	PushURL string
	PullURL string

	// Workers sizes the transfer pool. Zero uses transfer.DefaultWorkers().
	Workers int

	// ReconcileRateLimit caps scheduler queries per second during
	// reconciliation. Zero means unlimited.
	ReconcileRateLimit float64

	// ReconcileTimeout bounds the scheduler queries for one job.
	ReconcileTimeout time.Duration

	Logger *zap.Logger
}

// SubmitOptions controls data staging for one submission.
type SubmitOptions struct {
	// LocalInputFolder is uploaded to the job's input space before the job is
	// submitted. Empty skips input staging.
	LocalInputFolder string

	// LocalOutputFolder receives task output. Empty skips output staging.
	LocalOutputFolder string

	IsolateTaskOutputs bool

	// AutomaticTransfer downloads each task's output as soon as it finishes.
	// Requires LocalOutputFolder.
	AutomaticTransfer bool

	// PushURL and PullURL override the proxy defaults.
	PushURL string
	PullURL string
}

// Proxy is the caller API. It is safe for concurrent use.
type Proxy struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	sched      scheduler.Scheduler
	space      dataspace.Client
	registry   *jobregistry.Registry
	executor   *transfer.Executor
	fanout     *Fanout
	bridge     *Bridge
	reconciler *Reconciler

	mu          sync.Mutex
	connected   bool
	terminated  bool
	unsubscribe func()

	// settling tracks transfers whose caller gave up waiting; their
	// bookkeeping runs once the transfer itself ends.
	settling sync.WaitGroup
}

// New builds a proxy and starts its transfer pool. Call Init before use.
func New(opts Options) (*Proxy, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SessionName != "" {
		if err := jobregistry.ValidateSessionName(opts.SessionName); err != nil {
			return nil, err
		}
	}

	space := opts.DataSpace
	if space == nil {
		space = dataspace.NewClient(dataspace.Config{Logger: logger.Named("dataspace")})
	}

	p := &Proxy{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		sched:  opts.Scheduler,
		space:  space,
		registry: jobregistry.New(jobregistry.Config{
			Dir:         opts.Dir,
			SessionName: opts.SessionName,
			Logger:      logger.Named("registry"),
		}),
		executor: transfer.NewExecutor(transfer.ExecutorConfig{
			Workers: opts.Workers,
			Logger:  logger.Named("transfer"),
		}),
		fanout: NewFanout(logger.Named("listeners")),
	}
	p.bridge = NewBridge(p.registry, p.executor, p.space, p.fanout, logger.Named("bridge"))
	if p.sched != nil {
		p.reconciler = NewReconciler(p.sched, p.registry, p.bridge, ReconcilerConfig{
			RateLimit: opts.ReconcileRateLimit,
			Timeout:   opts.ReconcileTimeout,
			Logger:    logger.Named("reconcile"),
		})
	}
	return p, nil
}

// SetSessionName switches the registry session. It must be called before
// Init.
func (p *Proxy) SetSessionName(name string) error {
	return p.registry.SetSessionName(name)
}

// SessionName returns the registry session name.
func (p *Proxy) SessionName() string {
	return p.registry.SessionName()
}

// Registry exposes the awaited-job registry for read access.
func (p *Proxy) Registry() *jobregistry.Registry {
	return p.registry
}

// Init loads the registry, subscribes to scheduler notifications and runs a
// first reconciliation. Without a scheduler only the registry is loaded.
// Calling Init on a connected proxy is a no-op; use Reconnect to resync.
func (p *Proxy) Init(ctx context.Context) (*ReconcileSummary, error) {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil, ErrTerminated
	}
	if p.connected {
		p.mu.Unlock()
		return &ReconcileSummary{}, nil
	}
	if err := p.registry.Load(ctx); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("load awaited jobs: %w", err)
	}
	if p.sched == nil {
		p.mu.Unlock()
		p.logger.Info("No scheduler configured; running offline",
			zap.String("session", p.registry.SessionName()),
			zap.Int("awaited_jobs", p.registry.Len()))
		return &ReconcileSummary{}, nil
	}
	err := p.connectLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.reconcile(ctx)
}

// Reconnect drops the scheduler session, re-establishes it, re-subscribes and
// reconciles every awaited job.
func (p *Proxy) Reconnect(ctx context.Context) (*ReconcileSummary, error) {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil, ErrTerminated
	}
	if p.sched == nil {
		p.mu.Unlock()
		return nil, &scheduler.Error{Op: "Reconnect", Err: scheduler.ErrNotConnected}
	}

	p.dropSubscriptionLocked()
	if err := p.sched.Disconnect(ctx); err != nil {
		p.logger.Warn("Scheduler disconnect failed", zap.Error(err))
	}
	p.connected = false
	err := p.connectLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.reconcile(ctx)
}

// connectLocked must be called with p.mu held.
func (p *Proxy) connectLocked(ctx context.Context) error {
	p.dropSubscriptionLocked()
	if err := p.sched.Connect(ctx); err != nil {
		return fmt.Errorf("connect to scheduler: %w", err)
	}
	unsubscribe, err := p.sched.Subscribe(ctx, p.bridge.Handle)
	if err != nil {
		return fmt.Errorf("subscribe to scheduler: %w", err)
	}
	p.unsubscribe = unsubscribe
	p.connected = true
	return nil
}

func (p *Proxy) reconcile(ctx context.Context) (*ReconcileSummary, error) {
	sum, err := p.reconciler.Run(ctx)
	if err != nil {
		return sum, fmt.Errorf("reconcile awaited jobs: %w", err)
	}
	return sum, nil
}

func (p *Proxy) dropSubscriptionLocked() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// IsConnected reports whether the proxy holds a scheduler session.
func (p *Proxy) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Terminate unsubscribes, disconnects, waits for queued and in-flight
// transfers and closes the registry. It is safe to call more than once.
func (p *Proxy) Terminate(ctx context.Context) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return nil
	}
	p.terminated = true
	p.connected = false
	p.dropSubscriptionLocked()
	p.mu.Unlock()

	var errs []error
	if p.sched != nil {
		if err := p.sched.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}
	if err := p.executor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown transfers: %w", err))
	} else {
		p.bridge.Wait()
		p.settling.Wait()
	}
	if err := p.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close registry: %w", err))
	}
	if c, ok := p.space.(interface{ Close() error }); ok && p.opts.DataSpace == nil {
		_ = c.Close()
	}
	return errors.Join(errs...)
}

// AddEventListener registers l for every event the proxy handles or
// produces.
func (p *Proxy) AddEventListener(l scheduler.Listener) {
	p.fanout.Add(l)
}

// RemoveEventListener unregisters l.
func (p *Proxy) RemoveEventListener(l scheduler.Listener) {
	p.fanout.Remove(l)
}

// AwaitedJob returns a copy of an awaited job.
func (p *Proxy) AwaitedJob(jobID string) (*jobregistry.AwaitedJob, bool) {
	return p.registry.Get(jobID)
}

// AwaitedJobIDs returns the ids of all awaited jobs.
func (p *Proxy) AwaitedJobIDs() []string {
	return p.registry.ListIDs()
}

// DiscardJob stops tracking a job. Discarding an untracked job is a no-op.
func (p *Proxy) DiscardJob(ctx context.Context, jobID string) error {
	return p.registry.Remove(ctx, jobID)
}

// CleanDatabase deletes the session's registry files and reloads it empty.
func (p *Proxy) CleanDatabase(ctx context.Context) error {
	if err := p.registry.Reset(ctx); err != nil {
		return fmt.Errorf("clean database: %w", err)
	}
	p.logger.Info("Awaited job database cleaned", zap.String("session", p.registry.SessionName()))
	return nil
}

// Submit stages the job's data spaces, uploads local input, submits the job
// and starts tracking it. Failures are *SubmissionError; remote folders
// created before the failure are removed.
func (p *Proxy) Submit(ctx context.Context, job *scheduler.Job, opts SubmitOptions) (string, error) {
	if job == nil {
		return "", &SubmissionError{Kind: KindOther, Stage: "submit", Err: fmt.Errorf("%w: job is nil", ErrInvalidOptions)}
	}
	if !p.IsConnected() {
		return "", &SubmissionError{Kind: KindNotConnected, Stage: "submit", Err: scheduler.ErrNotConnected}
	}
	if opts.AutomaticTransfer && strings.TrimSpace(opts.LocalOutputFolder) == "" {
		return "", &SubmissionError{Kind: KindOther, Stage: "submit", Err: fmt.Errorf("%w: automatic transfer requires a local output folder", ErrInvalidOptions)}
	}
	pushURL := firstNonEmpty(opts.PushURL, p.opts.PushURL)
	pullURL := firstNonEmpty(opts.PullURL, p.opts.PullURL)

	folder := UniqueFolderName(p.opts.Identity, p.now())
	var created []string
	var uploading <-chan struct{}
	fail := func(stage string, err error) (string, error) {
		p.compensateAfter(ctx, uploading, created)
		return "", &SubmissionError{Kind: classifySubmission(err), Stage: stage, Err: err}
	}

	var input, output *StagedSpace
	if opts.LocalInputFolder != "" {
		st, err := PrepareInput(ctx, p.space, job, opts.LocalInputFolder, pushURL, folder)
		if err != nil {
			return fail("stage_input", err)
		}
		created = append(created, st.URL)
		input = st
	}
	if opts.LocalOutputFolder != "" {
		st, err := PrepareOutput(ctx, p.space, job, opts.LocalOutputFolder, pullURL, folder, opts.IsolateTaskOutputs)
		if err != nil {
			return fail("stage_output", err)
		}
		created = append(created, st.URL)
		output = st
	}

	if input != nil {
		settled, err := p.uploadInput(ctx, job, input)
		uploading = settled
		if err != nil {
			return fail("upload", err)
		}
	}

	jobID, err := p.sched.Submit(ctx, job)
	if err != nil {
		return fail("submit", err)
	}

	aj := &jobregistry.AwaitedJob{
		JobID:              jobID,
		IsolateTaskOutputs: opts.IsolateTaskOutputs,
		AutomaticTransfer:  opts.AutomaticTransfer,
		Tasks:              make(map[string]*jobregistry.AwaitedTask, len(job.Tasks)),
		SubmittedAt:        p.now().UTC(),
	}
	if input != nil {
		aj.LocalInputFolder = input.LocalFolder
		aj.RemoteInputSpaceURL = job.InputSpace
		aj.PushURL = input.URL
	}
	if output != nil {
		aj.LocalOutputFolder = output.LocalFolder
		aj.RemoteOutputSpaceURL = job.OutputSpace
		aj.PullURL = output.URL
	}
	for _, t := range job.Tasks {
		aj.Tasks[t.Name] = &jobregistry.AwaitedTask{
			Name:            t.Name,
			OutputSelectors: append([]string(nil), t.OutputFiles...),
		}
	}

	if err := p.registry.Put(ctx, aj); err != nil {
		p.logger.Error("Job submitted but could not be tracked",
			zap.String("job_id", jobID),
			zap.String("pull_url", aj.PullURL),
			zap.Error(err))
		return jobID, &SubmissionError{Kind: KindOther, Stage: "register", JobID: jobID, Err: err}
	}

	p.logger.Info("Job submitted",
		zap.String("job_id", jobID),
		zap.String("folder", folder),
		zap.Int("tasks", len(aj.Tasks)),
		zap.Bool("automatic_transfer", aj.AutomaticTransfer),
	)
	return jobID, nil
}

// uploadInput runs the input upload. The returned channel is closed once
// the upload has really ended, which may be after uploadInput returned
// because ctx ended.
func (p *Proxy) uploadInput(ctx context.Context, job *scheduler.Job, input *StagedSpace) (<-chan struct{}, error) {
	settled := make(chan struct{})
	selectors := inputSelectors(job)
	files := 0
	ch, err := p.executor.Enqueue(ctx, transfer.Work{
		Op:          transfer.OpUpload,
		Source:      input.LocalFolder,
		Destination: input.URL,
		Run: func(ctx context.Context) error {
			n, err := p.space.Upload(ctx, input.LocalFolder, input.URL, selectors)
			files = n
			return err
		},
	})
	if err != nil {
		close(settled)
		return settled, err
	}

	err = p.awaitOutcome(ctx, ch, func(err error) {
		defer close(settled)
		ev := &scheduler.TransferEvent{
			Direction:   scheduler.DirectionUpload,
			Source:      input.LocalFolder,
			Destination: input.URL,
			Err:         err,
		}
		if err == nil {
			ev.Files = files
		}
		p.fanout.Deliver(context.WithoutCancel(ctx), ev)
	})
	return settled, err
}

// awaitOutcome waits for a transfer result. When ctx ends first it returns
// ctx.Err() at once and settle still runs, from a goroutine, with the real
// result once the transfer ends. Otherwise settle runs before returning.
func (p *Proxy) awaitOutcome(ctx context.Context, result <-chan error, settle func(error)) error {
	select {
	case err := <-result:
		settle(err)
		return err
	case <-ctx.Done():
		p.settling.Add(1)
		go func() {
			defer p.settling.Done()
			settle(<-result)
		}()
		return ctx.Err()
	}
}

// compensateAfter removes staged folders once inflight (if any) is closed.
func (p *Proxy) compensateAfter(ctx context.Context, inflight <-chan struct{}, urls []string) {
	if inflight != nil {
		select {
		case <-inflight:
		default:
			p.settling.Add(1)
			go func() {
				defer p.settling.Done()
				<-inflight
				p.compensate(ctx, urls)
			}()
			return
		}
	}
	p.compensate(ctx, urls)
}

func (p *Proxy) compensate(ctx context.Context, urls []string) {
	ctx = context.WithoutCancel(ctx)
	for _, u := range urls {
		if err := p.space.DeleteFolder(ctx, u); err != nil {
			p.logger.Warn("Failed to remove staged folder after submission failure",
				zap.String("url", u),
				zap.Error(err))
		}
	}
}

// PullData downloads one task's output on demand. It is rejected for jobs
// with automatic transfer. An empty localFolder uses the job's local output
// folder.
func (p *Proxy) PullData(ctx context.Context, jobID, taskName, localFolder string) error {
	job, ok := p.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("pull data: job %s: %w", jobID, scheduler.ErrUnknownJob)
	}
	if job.AutomaticTransfer {
		return fmt.Errorf("pull data: job %s: %w", jobID, ErrAutomaticTransfer)
	}
	task := job.Task(taskName)
	if task == nil {
		return fmt.Errorf("pull data: job %s task %s: %w", jobID, taskName, scheduler.ErrUnknownTask)
	}

	dst := firstNonEmpty(localFolder, job.LocalOutputFolder)
	if dst == "" {
		return fmt.Errorf("pull data: %w: no local folder given and the job has none", ErrInvalidOptions)
	}
	dst, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("pull data: %w", err)
	}
	if job.PullURL == "" {
		return fmt.Errorf("pull data: %w: job %s has no pull url", ErrInvalidOptions, jobID)
	}

	taskID := task.TaskID
	if taskID == "" && job.IsolateTaskOutputs {
		taskID = p.lookupTaskID(ctx, jobID, taskName)
	}
	src, err := outputSource(job.PullURL, job.IsolateTaskOutputs, taskID)
	if err != nil {
		return fmt.Errorf("pull data: job %s task %s: %w", jobID, taskName, err)
	}

	claimed := false
	if _, err := p.registry.Update(ctx, jobID, func(j *jobregistry.AwaitedJob) error {
		t := j.Task(taskName)
		if t == nil {
			return scheduler.ErrUnknownTask
		}
		if t.Transferring {
			return ErrTransferInProgress
		}
		t.Transferring = true
		if t.TaskID == "" {
			t.TaskID = taskID
		}
		claimed = true
		return nil
	}); err != nil {
		return fmt.Errorf("pull data: job %s task %s: %w", jobID, taskName, err)
	}
	if !claimed {
		return fmt.Errorf("pull data: job %s: %w", jobID, scheduler.ErrUnknownJob)
	}

	files := 0
	selectors := append([]string(nil), task.OutputSelectors...)
	result, err := p.executor.Enqueue(ctx, transfer.Work{
		Op:          transfer.OpDownload,
		JobID:       jobID,
		TaskName:    taskName,
		Source:      src,
		Destination: dst,
		Run: func(ctx context.Context) error {
			n, err := p.space.Download(ctx, src, selectors, dst)
			files = n
			return err
		},
	})
	if err != nil {
		p.releasePull(ctx, jobID, taskName, err)
		return fmt.Errorf("pull data: %w", err)
	}

	// The transferring flag stays set until the download has really ended,
	// even when the caller stops waiting.
	var uerr error
	terr := p.awaitOutcome(ctx, result, func(terr error) {
		uerr = p.releasePull(ctx, jobID, taskName, terr)

		ev := &scheduler.TransferEvent{
			Direction:   scheduler.DirectionDownload,
			JobID:       jobID,
			TaskName:    taskName,
			Source:      src,
			Destination: dst,
			Err:         terr,
		}
		if terr == nil {
			ev.Files = files
		}
		p.fanout.Deliver(context.WithoutCancel(ctx), ev)

		if terr == nil {
			p.logger.Info("Task output pulled",
				zap.String("job_id", jobID),
				zap.String("task_name", taskName),
				zap.String("destination", dst),
				zap.Int("files", files))
		}
	})
	if terr != nil {
		if errors.Is(terr, ctx.Err()) {
			return fmt.Errorf("pull data: job %s task %s: %w", jobID, taskName, terr)
		}
		return terr
	}
	if uerr != nil {
		return fmt.Errorf("pull data: record transfer: %w", uerr)
	}
	return nil
}

// releasePull clears the transferring flag of a manual pull and marks the
// task transferred when terr is nil.
func (p *Proxy) releasePull(ctx context.Context, jobID, taskName string, terr error) error {
	_, err := p.registry.Update(context.WithoutCancel(ctx), jobID, func(j *jobregistry.AwaitedJob) error {
		t := j.Task(taskName)
		if t == nil {
			return jobregistry.ErrNoChange
		}
		t.Transferring = false
		if terr == nil {
			t.Transferred = true
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("Failed to record pull outcome",
			zap.String("job_id", jobID),
			zap.String("task_name", taskName),
			zap.Error(err))
	}
	return err
}

func (p *Proxy) lookupTaskID(ctx context.Context, jobID, taskName string) string {
	if p.sched == nil || !p.IsConnected() {
		return ""
	}
	st, err := p.sched.JobState(ctx, jobID)
	if err != nil {
		p.logger.Debug("Task id lookup failed",
			zap.String("job_id", jobID),
			zap.String("task_name", taskName),
			zap.Error(err))
		return ""
	}
	if st == nil {
		return ""
	}
	return st.Tasks[taskName].TaskID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
