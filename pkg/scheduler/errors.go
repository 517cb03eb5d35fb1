package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for scheduler operations.
var (
	// ErrNotConnected indicates no usable scheduler session.
	ErrNotConnected = errors.New("not connected to scheduler")

	// ErrConnection indicates a transient transport failure.
	ErrConnection = errors.New("scheduler connection error")

	// ErrPermission indicates the session may not perform the operation.
	ErrPermission = errors.New("permission denied")

	// ErrSubmissionClosed indicates the scheduler is not accepting jobs.
	ErrSubmissionClosed = errors.New("job submission is closed")

	// ErrJobCreation indicates the scheduler rejected the job description.
	ErrJobCreation = errors.New("job creation failed")

	// ErrUnknownJob indicates the scheduler no longer knows the job.
	ErrUnknownJob = errors.New("unknown job")

	// ErrUnknownTask indicates the scheduler no longer knows the task.
	ErrUnknownTask = errors.New("unknown task")
)

// Error wraps scheduler errors with context.
type Error struct {
	// Op is the operation that failed (e.g., "Submit", "JobState").
	Op string

	JobID    string
	TaskName string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.TaskName != "":
		return fmt.Sprintf("scheduler %s: job %s task %s: %v", e.Op, e.JobID, e.TaskName, e.Err)
	case e.JobID != "":
		return fmt.Sprintf("scheduler %s: job %s: %v", e.Op, e.JobID, e.Err)
	default:
		return fmt.Sprintf("scheduler %s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotConnected returns true if the error indicates a missing session.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsConnection returns true for transient, retryable transport failures.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrNotConnected)
}

// IsPermission returns true if the error indicates insufficient permissions.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsSubmissionClosed returns true if the scheduler refuses new jobs.
func IsSubmissionClosed(err error) bool {
	return errors.Is(err, ErrSubmissionClosed)
}

// IsJobCreation returns true if the job description was rejected.
func IsJobCreation(err error) bool {
	return errors.Is(err, ErrJobCreation)
}

// IsUnknownJob returns true if the job no longer exists remotely.
func IsUnknownJob(err error) bool {
	return errors.Is(err, ErrUnknownJob)
}

// IsUnknownTask returns true if the task no longer exists remotely.
func IsUnknownTask(err error) bool {
	return errors.Is(err, ErrUnknownTask)
}
