package jobregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultSessionName is used when the caller does not pick a session.
const DefaultSessionName = "jobsync"

const databaseSuffix = "_awaited_jobs.db"

// SQLite keeps its journal next to the database; these travel with the session.
var sideFileSuffixes = []string{"", "-wal", "-shm", "-journal"}

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateSessionName checks that name is usable as a file-name prefix.
func ValidateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (allowed: [A-Za-z0-9_]+)", ErrInvalidSessionName, name)
	}
	return nil
}

// DatabasePath returns the registry database path for a session.
func DatabasePath(dir, session string) string {
	return filepath.Join(dir, session+databaseSuffix)
}

// SessionFiles lists every file a session may own under dir, whether or not it
// currently exists.
func SessionFiles(dir, session string) []string {
	base := DatabasePath(dir, session)
	out := make([]string, 0, len(sideFileSuffixes))
	for _, suffix := range sideFileSuffixes {
		out = append(out, base+suffix)
	}
	return out
}

// PurgeSession deletes all files belonging to session under dir.
//
// Files of other sessions are never touched, including sessions whose name
// shares a prefix with this one.
func PurgeSession(dir, session string) error {
	if err := ValidateSessionName(session); err != nil {
		return err
	}
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("registry dir is empty")
	}
	for _, path := range SessionFiles(dir, session) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// DefaultDir returns the platform cache directory used for registries.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "jobsync")
	}
	return filepath.Join(os.TempDir(), "jobsync")
}
