package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/jobsync/pkg/provider"
)

// ErrExecutorClosed is returned when work is enqueued after Shutdown.
var ErrExecutorClosed = errors.New("transfer executor is shut down")

// Op names the kind of transfer.
type Op string

const (
	OpUpload   Op = "upload"
	OpDownload Op = "download"
)

// TransferError reports a failed unit of transfer work.
type TransferError struct {
	Op          Op
	JobID       string
	TaskName    string
	Source      string
	Destination string
	Err         error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Op))
	if e.JobID != "" {
		b.WriteString(" job ")
		b.WriteString(e.JobID)
	}
	if e.TaskName != "" {
		b.WriteString(" task ")
		b.WriteString(e.TaskName)
	}
	if e.Source != "" || e.Destination != "" {
		fmt.Fprintf(&b, " (%s -> %s)", e.Source, e.Destination)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsTransferError reports whether err wraps a *TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// SizeMismatchError indicates the object size changed between listing and
// content retrieval. It does not eliminate TOCTOU races.
type SizeMismatchError struct {
	Key      string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("source size mismatch for %s: expected=%d got=%d", e.Key, e.Expected, e.Got)
}

// Error codes used as metric labels and log fields.
const (
	CodeNotFound            = "not_found"
	CodeAccessDenied        = "access_denied"
	CodeThrottled           = "throttled"
	CodeProviderUnavailable = "provider_unavailable"
	CodeTimeout             = "timeout"
	CodeSizeMismatch        = "size_mismatch"
	CodeInternal            = "internal"
)

// Classify maps a transfer failure to a small, stable code.
func Classify(err error) string {
	switch provider.Classify(err) {
	case provider.ClassNotFound:
		return CodeNotFound
	case provider.ClassDenied:
		return CodeAccessDenied
	case provider.ClassThrottled:
		return CodeThrottled
	case provider.ClassUnavailable:
		return CodeProviderUnavailable
	}
	var sizeErr *SizeMismatchError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &sizeErr):
		return CodeSizeMismatch
	default:
		return CodeInternal
	}
}
