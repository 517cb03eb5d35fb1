package jobregistry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSessionName indicates a session name outside [A-Za-z0-9_]+.
	ErrInvalidSessionName = errors.New("invalid session name")

	// ErrInvalidState indicates an operation not permitted in the registry's
	// current lifecycle state (e.g. renaming the session after Load).
	ErrInvalidState = errors.New("invalid registry state")

	// ErrNotLoaded is returned by store operations before Load.
	ErrNotLoaded = errors.New("registry is not loaded")

	// ErrNoChange may be returned by an Update callback to skip the commit.
	ErrNoChange = errors.New("no change")
)

// SchemaError reports a persisted store that cannot be read by this version.
//
// The registry treats it as unrecoverable for the session: all session files
// are purged and the store is reloaded empty.
type SchemaError struct {
	Path     string
	Found    int
	Expected int
	Err      error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry schema %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("registry schema %s: version %d, expected %d", e.Path, e.Found, e.Expected)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err is (or wraps) a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// isCorruptDatabase matches SQLite's messages for files that are not, or are no
// longer, valid databases.
func isCorruptDatabase(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "file is encrypted")
}
