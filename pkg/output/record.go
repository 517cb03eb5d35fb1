// Package output provides a JSONL journal of jobsync events.
//
// Each line is a typed record envelope. Lines are self-contained and can be
// parsed independently, so a journal can be tailed while it is written.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/jobsync/pkg/scheduler"
)

// Record type constants follow the pattern jobsync.<type>.v<version>.
const (
	TypeJob      = "jobsync.job.v1"
	TypeTask     = "jobsync.task.v1"
	TypeTransfer = "jobsync.transfer.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Session string          `json:"session"`
	JobID   string          `json:"job_id"`
	Data    json.RawMessage `json:"data"`
}

// JobRecord is the payload of a job status change.
type JobRecord struct {
	Status    scheduler.JobStatus `json:"status"`
	Synthetic bool                `json:"synthetic,omitempty"`
}

// TaskRecord is the payload of a task status change.
type TaskRecord struct {
	TaskName  string               `json:"task_name"`
	TaskID    string               `json:"task_id,omitempty"`
	Status    scheduler.TaskStatus `json:"status"`
	Synthetic bool                 `json:"synthetic,omitempty"`
}

// TransferRecord is the payload of a finished data transfer.
type TransferRecord struct {
	Direction   scheduler.TransferDirection `json:"direction"`
	TaskName    string                      `json:"task_name,omitempty"`
	Source      string                      `json:"source"`
	Destination string                      `json:"destination"`
	Files       int                         `json:"files"`
	Error       string                      `json:"error,omitempty"`
}

var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrUnknownEvent is returned for events with no record mapping.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // marshal_data, marshal_record or write
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// recordFor maps an event to its record type and payload.
func recordFor(ev scheduler.Event) (string, any, error) {
	switch e := ev.(type) {
	case *scheduler.JobEvent:
		return TypeJob, &JobRecord{Status: e.Status, Synthetic: e.Synthetic}, nil
	case *scheduler.TaskEvent:
		return TypeTask, &TaskRecord{
			TaskName:  e.TaskName,
			TaskID:    e.TaskID,
			Status:    e.Status,
			Synthetic: e.Synthetic,
		}, nil
	case *scheduler.TransferEvent:
		rec := &TransferRecord{
			Direction:   e.Direction,
			TaskName:    e.TaskName,
			Source:      e.Source,
			Destination: e.Destination,
			Files:       e.Files,
		}
		if e.Err != nil {
			rec.Error = e.Err.Error()
		}
		return TypeTransfer, rec, nil
	default:
		return "", nil, ErrUnknownEvent
	}
}
