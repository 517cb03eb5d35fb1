package proxy

import (
	"errors"
	"fmt"

	"github.com/3leaps/jobsync/pkg/provider"
	"github.com/3leaps/jobsync/pkg/scheduler"
	"github.com/3leaps/jobsync/pkg/transfer"
)

var (
	// ErrAutomaticTransfer rejects a manual pull for a job whose output is
	// transferred automatically.
	ErrAutomaticTransfer = errors.New("job output is transferred automatically")

	// ErrTransferInProgress rejects a manual pull while the task's output is
	// already being transferred.
	ErrTransferInProgress = errors.New("transfer already in progress")

	// ErrInvalidOptions indicates unusable submission or pull options.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrTerminated is returned by calls made after Terminate.
	ErrTerminated = errors.New("proxy is terminated")
)

// SubmissionKind classifies submission failures.
type SubmissionKind string

const (
	KindNotConnected     SubmissionKind = "not_connected"
	KindPermission       SubmissionKind = "permission"
	KindSubmissionClosed SubmissionKind = "submission_closed"
	KindJobCreation      SubmissionKind = "job_creation"
	KindTransfer         SubmissionKind = "transfer"
	KindOther            SubmissionKind = "other"
)

// SubmissionError is returned by Submit. Remote folders created before the
// failure have been removed (best effort) by the time it is returned.
type SubmissionError struct {
	Kind SubmissionKind

	// Stage is the submission step that failed: "stage_input",
	// "stage_output", "upload", "submit" or "register".
	Stage string

	// JobID is set only when the scheduler accepted the job but it could not
	// be tracked locally.
	JobID string

	Err error
}

func (e *SubmissionError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("submit (%s, %s) job %s: %v", e.Stage, e.Kind, e.JobID, e.Err)
	}
	return fmt.Sprintf("submit (%s, %s): %v", e.Stage, e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// SubmissionErrorKind returns the kind of a *SubmissionError in err's chain,
// or "" when there is none.
func SubmissionErrorKind(err error) SubmissionKind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func classifySubmission(err error) SubmissionKind {
	switch {
	case scheduler.IsNotConnected(err):
		return KindNotConnected
	case scheduler.IsPermission(err), provider.IsDenied(err):
		return KindPermission
	case scheduler.IsSubmissionClosed(err):
		return KindSubmissionClosed
	case scheduler.IsJobCreation(err):
		return KindJobCreation
	case transfer.IsTransferError(err), provider.Classify(err) != provider.ClassNone:
		return KindTransfer
	default:
		return KindOther
	}
}
