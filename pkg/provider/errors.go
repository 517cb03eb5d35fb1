package provider

import (
	"errors"
	"fmt"
	"path"
)

// Sentinel errors for data-space storage operations. Provider
// implementations map their native failures onto these so callers never
// depend on SDK error types.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates the identity may not touch the location.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the data space root does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the storage service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")
)

// ProviderError wraps a storage failure with the operation and the data-space
// location it was addressed to.
type ProviderError struct {
	// Op is the storage call that failed, e.g. "PutObject" or "DeleteObject".
	Op string

	Provider ProviderType

	// Bucket is the bucket for s3 and the base directory for file spaces.
	Bucket string

	// Key is the object key below Bucket, if any.
	Key string

	Err error
}

// Location renders the failing location as a data-space URL, or "" when no
// bucket is known.
func (e *ProviderError) Location() string {
	if e.Bucket == "" {
		return ""
	}
	switch e.Provider {
	case ProviderFile:
		return "file://" + path.Join(e.Bucket, e.Key)
	default:
		if e.Key == "" {
			return fmt.Sprintf("%s://%s", e.Provider, e.Bucket)
		}
		return fmt.Sprintf("%s://%s/%s", e.Provider, e.Bucket, e.Key)
	}
}

func (e *ProviderError) Error() string {
	if loc := e.Location(); loc != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, loc, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Class groups storage failures by how a transfer caller reacts to them.
type Class string

const (
	ClassNone        Class = ""
	ClassNotFound    Class = "not_found"
	ClassDenied      Class = "denied"
	ClassThrottled   Class = "throttled"
	ClassUnavailable Class = "unavailable"
	ClassOther       Class = "other"
)

// Retryable reports whether a later attempt may succeed without any change
// on the caller's side.
func (c Class) Retryable() bool {
	return c == ClassThrottled || c == ClassUnavailable
}

// Classify maps err onto a Class. Errors that carry no storage sentinel and
// no *ProviderError classify as ClassNone.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBucketNotFound):
		return ClassNotFound
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrInvalidCredentials):
		return ClassDenied
	case errors.Is(err, ErrThrottled):
		return ClassThrottled
	case errors.Is(err, ErrProviderUnavailable):
		return ClassUnavailable
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return ClassOther
	}
	return ClassNone
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBucketNotFound reports whether err indicates a missing data space root.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsDenied reports whether err is an authorization or authentication failure.
func IsDenied(err error) bool {
	return Classify(err) == ClassDenied
}
