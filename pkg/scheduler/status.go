package scheduler

// JobStatus is the lifecycle status of a job.
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobRunning  JobStatus = "RUNNING"
	JobFinished JobStatus = "FINISHED"
	JobCanceled JobStatus = "CANCELED"
	JobKilled   JobStatus = "KILLED"
	JobFailed   JobStatus = "FAILED"
)

// IsTerminal reports whether the job can no longer change status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobFinished, JobCanceled, JobKilled, JobFailed:
		return true
	default:
		return false
	}
}

// IsUnrecoverable reports whether the job ended without retrievable output.
func (s JobStatus) IsUnrecoverable() bool {
	return s == JobKilled || s == JobCanceled
}

func (s JobStatus) String() string {
	return string(s)
}

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskSubmitted    TaskStatus = "SUBMITTED"
	TaskPending      TaskStatus = "PENDING"
	TaskRunning      TaskStatus = "RUNNING"
	TaskFinished     TaskStatus = "FINISHED"
	TaskFaulty       TaskStatus = "FAULTY"
	TaskAborted      TaskStatus = "ABORTED"
	TaskNotStarted   TaskStatus = "NOT_STARTED"
	TaskNotRestarted TaskStatus = "NOT_RESTARTED"
	TaskSkipped      TaskStatus = "SKIPPED"
)

// ProducedOutput reports whether a task in this status may have written output.
func (s TaskStatus) ProducedOutput() bool {
	return s == TaskFinished || s == TaskFaulty
}

// WithoutOutput reports whether the task ended without producing output.
func (s TaskStatus) WithoutOutput() bool {
	switch s {
	case TaskAborted, TaskNotStarted, TaskNotRestarted, TaskSkipped:
		return true
	default:
		return false
	}
}

func (s TaskStatus) String() string {
	return string(s)
}
