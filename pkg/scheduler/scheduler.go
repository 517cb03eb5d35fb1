// Package scheduler defines the contract jobsync consumes from a remote batch
// scheduler: job submission, state queries and status notifications.
//
// The scheduler's wire protocol, authentication and execution semantics live
// behind the Scheduler interface and are not implemented here.
package scheduler

import (
	"context"
)

// Scheduler is the remote scheduler control/query API.
//
// Implementations should be safe for concurrent use.
type Scheduler interface {
	// Connect (re-)establishes and authenticates the session.
	Connect(ctx context.Context) error

	// Disconnect drops the session. Subscriptions are invalidated.
	Disconnect(ctx context.Context) error

	// Submit hands a job to the scheduler and returns its id.
	Submit(ctx context.Context, job *Job) (string, error)

	// JobState returns the authoritative state of a job.
	// Returns ErrUnknownJob if the scheduler no longer knows the job.
	JobState(ctx context.Context, jobID string) (*JobState, error)

	// TaskResult returns the result of a finished task, or (nil, nil) when no
	// result is available yet.
	TaskResult(ctx context.Context, jobID, taskName string) (*TaskResult, error)

	// Subscribe registers handler for job and task status notifications.
	// Handlers are invoked synchronously from the scheduler's delivery path.
	Subscribe(ctx context.Context, handler EventHandler) (unsubscribe func(), err error)
}

// EventHandler receives scheduler notifications.
type EventHandler func(ctx context.Context, ev Event)

// Job is a job description as submitted to the scheduler.
type Job struct {
	Name string

	// InputSpace is the scheduler-visible URL tasks read input files from.
	InputSpace string

	// OutputSpace is the scheduler-visible URL tasks write output files to.
	OutputSpace string

	Tasks []Task

	// GenericInfo carries free-form metadata stored with the job.
	GenericInfo map[string]string
}

// Task is a task declaration within a Job.
type Task struct {
	Name string

	// InputFiles are glob selectors, relative to the input space.
	InputFiles []string

	// OutputFiles are glob selectors, relative to the output space.
	OutputFiles []string
}

// SetGenericInfo sets a metadata entry, allocating the map when needed.
func (j *Job) SetGenericInfo(key, value string) {
	if j.GenericInfo == nil {
		j.GenericInfo = make(map[string]string)
	}
	j.GenericInfo[key] = value
}

// JobState is the scheduler's view of a job.
type JobState struct {
	JobID  string
	Status JobStatus
	Tasks  map[string]TaskState
}

// TaskState is the scheduler's view of one task.
type TaskState struct {
	Name   string
	TaskID string
	Status TaskStatus
}

// TaskResult is the outcome of a completed task.
type TaskResult struct {
	TaskName string
	TaskID   string

	// HadException is true when the task ended in error (FAULTY).
	HadException bool
}
