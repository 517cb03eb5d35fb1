package transfer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/metrics"
)

// WorkersPerCPU sizes the default pool: transfers are I/O bound, so a few
// workers per execution unit keep links busy without exhausting descriptors.
const WorkersPerCPU = 3

// DefaultWorkers returns WorkersPerCPU × runtime.NumCPU().
func DefaultWorkers() int {
	return WorkersPerCPU * runtime.NumCPU()
}

// Work is one unit of transfer: a task's output download or a job's input
// upload.
type Work struct {
	Op          Op
	JobID       string
	TaskName    string
	Source      string
	Destination string

	// Run performs the blocking I/O.
	Run func(ctx context.Context) error
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Workers is the pool size. Zero uses DefaultWorkers().
	Workers int

	Logger *zap.Logger
}

type queued struct {
	work   Work
	ctx    context.Context
	result chan error
}

// Executor is a fixed-size worker pool fed by an unbounded FIFO queue.
//
// Enqueue never blocks on I/O. Once started, work runs to completion: there
// is no cancellation of in-flight transfers.
type Executor struct {
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*queued
	closed bool
	active int

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewExecutor starts the worker goroutines.
func NewExecutor(cfg ExecutorConfig) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		workers: workers,
		logger:  logger,
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	logger.Debug("Starting transfer executor", zap.Int("pool_size", workers))
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return e
}

// Workers returns the pool size.
func (e *Executor) Workers() int {
	return e.workers
}

// Pending returns the number of queued and running work items.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) + e.active
}

// Enqueue schedules w and returns a channel that receives its outcome
// exactly once: nil or a *TransferError.
//
// Values carried by ctx are passed to the work; its cancellation is not.
func (e *Executor) Enqueue(ctx context.Context, w Work) (<-chan error, error) {
	if w.Run == nil {
		return nil, fmt.Errorf("transfer work has no Run function")
	}
	q := &queued{
		work:   w,
		ctx:    context.WithoutCancel(ctx),
		result: make(chan error, 1),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	e.queue = append(e.queue, q)
	e.mu.Unlock()
	e.cond.Signal()

	metrics.TransferQueueDepth.Inc()
	return q.result, nil
}

// Do enqueues w and waits for its outcome. If ctx ends first, Do returns
// ctx.Err() while the work keeps running.
func (e *Executor) Do(ctx context.Context, w Work) error {
	ch, err := e.Enqueue(ctx, w)
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake and waits until queued and in-flight work finished
// or ctx ends. It is safe to call more than once.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cond.Broadcast()

		go func() {
			e.wg.Wait()
			close(e.done)
		}()
	})

	select {
	case <-e.done:
		e.logger.Debug("Transfer executor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) next() *queued {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.queue) == 0 {
		return nil
	}
	q := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	e.active++
	return q
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	for {
		q := e.next()
		if q == nil {
			e.logger.Debug("Transfer worker exiting", zap.Int("worker_id", id))
			return
		}
		metrics.TransferQueueDepth.Dec()

		err := e.run(id, q)

		e.mu.Lock()
		e.active--
		e.mu.Unlock()

		q.result <- err
	}
}

func (e *Executor) run(id int, q *queued) (err error) {
	w := q.work
	metrics.TransferWorkersActive.Inc()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Transfer worker panic recovered",
				zap.Int("worker_id", id),
				zap.String("job_id", w.JobID),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("panic: %v", r)
		}

		metrics.TransferWorkersActive.Dec()
		metrics.TransferDuration.WithLabelValues(string(w.Op)).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.TransfersTotal.WithLabelValues(string(w.Op), "success").Inc()
			return
		}
		metrics.TransfersTotal.WithLabelValues(string(w.Op), Classify(err)).Inc()
		if !IsTransferError(err) {
			err = &TransferError{
				Op:          w.Op,
				JobID:       w.JobID,
				TaskName:    w.TaskName,
				Source:      w.Source,
				Destination: w.Destination,
				Err:         err,
			}
		}
	}()

	e.logger.Debug("Transfer started",
		zap.Int("worker_id", id),
		zap.String("op", string(w.Op)),
		zap.String("job_id", w.JobID),
		zap.String("task_name", w.TaskName),
	)
	return w.Run(q.ctx)
}
