package scheduler

import "context"

// EventKind identifies an event variant.
type EventKind string

const (
	KindJobStatus  EventKind = "job_status"
	KindTaskStatus EventKind = "task_status"
	KindTransfer   EventKind = "transfer"
)

// Event is the closed set of notifications flowing through jobsync:
// *JobEvent, *TaskEvent and *TransferEvent.
type Event interface {
	Kind() EventKind
	JobRef() string
	event()
}

// JobEvent reports a job status change.
type JobEvent struct {
	JobID  string
	Status JobStatus

	// Synthetic marks events replayed by reconciliation.
	Synthetic bool
}

func (e *JobEvent) Kind() EventKind { return KindJobStatus }
func (e *JobEvent) JobRef() string  { return e.JobID }
func (e *JobEvent) event()          {}

// TaskEvent reports a task status change.
type TaskEvent struct {
	JobID    string
	TaskName string
	TaskID   string
	Status   TaskStatus

	Synthetic bool
}

func (e *TaskEvent) Kind() EventKind { return KindTaskStatus }
func (e *TaskEvent) JobRef() string  { return e.JobID }
func (e *TaskEvent) event()          {}

// TransferDirection tells whether data moved to or from a data space.
type TransferDirection string

const (
	DirectionUpload   TransferDirection = "upload"
	DirectionDownload TransferDirection = "download"
)

// TransferEvent reports the outcome of a data transfer run by jobsync.
type TransferEvent struct {
	Direction   TransferDirection
	JobID       string
	TaskName    string
	Source      string
	Destination string
	Files       int

	// Err is nil on success.
	Err error
}

func (e *TransferEvent) Kind() EventKind { return KindTransfer }
func (e *TransferEvent) JobRef() string  { return e.JobID }
func (e *TransferEvent) event()          {}

// Listener observes events re-broadcast by jobsync.
//
// A listener whose HandleEvent returns an error (or panics) is evicted and
// receives no further events.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener. Function values are not
// comparable; wrap them in a pointer-backed type when removal is needed.
type ListenerFunc func(ctx context.Context, ev Event) error

// HandleEvent calls f.
func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
