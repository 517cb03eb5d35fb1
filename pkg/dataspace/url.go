// Package dataspace reads and writes job data spaces: remote storage roots
// that both the client and the scheduler's executors can address.
//
// Supported URLs:
//
//	s3://bucket/prefix        S3 or S3-compatible storage
//	file:///shared/spaces/in  a directory, typically on a shared mount
//	/shared/spaces/in         shorthand for file://
package dataspace

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/3leaps/jobsync/pkg/provider"
)

var (
	// ErrInvalidURL indicates a data-space URL that cannot be parsed.
	ErrInvalidURL = errors.New("invalid data space url")

	// ErrUnsupportedScheme indicates a scheme with no provider.
	ErrUnsupportedScheme = errors.New("unsupported data space scheme")
)

// Location is a parsed data-space URL.
type Location struct {
	Type provider.ProviderType

	// Bucket is set for S3 locations.
	Bucket string

	// Path is the key prefix for S3 ("" or "a/b") and the absolute
	// directory for file locations.
	Path string
}

// ParseURL parses a data-space URL.
func ParseURL(raw string) (*Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if strings.HasPrefix(raw, "/") {
		return &Location{Type: provider.ProviderFile, Path: cleanAbs(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURL, raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s: missing bucket", ErrInvalidURL, raw)
		}
		return &Location{Type: provider.ProviderS3, Bucket: u.Host, Path: cleanRel(u.Path)}, nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return nil, fmt.Errorf("%w: %s: remote file hosts are not supported", ErrInvalidURL, raw)
		}
		if u.Path == "" {
			return nil, fmt.Errorf("%w: %s: missing path", ErrInvalidURL, raw)
		}
		return &Location{Type: provider.ProviderFile, Path: cleanAbs(u.Path)}, nil
	case "":
		return nil, fmt.Errorf("%w: %s: missing scheme", ErrInvalidURL, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// String renders the canonical URL.
func (l *Location) String() string {
	switch l.Type {
	case provider.ProviderS3:
		if l.Path == "" {
			return "s3://" + l.Bucket
		}
		return "s3://" + l.Bucket + "/" + l.Path
	default:
		return "file://" + l.Path
	}
}

// Child returns the location of a sub-folder.
func (l *Location) Child(elems ...string) *Location {
	c := *l
	parts := append([]string{l.Path}, elems...)
	joined := path.Join(parts...)
	if l.Type == provider.ProviderFile {
		c.Path = cleanAbs(joined)
	} else {
		c.Path = cleanRel(joined)
	}
	return &c
}

// Join appends path elements to a data-space URL.
func Join(base string, elems ...string) (string, error) {
	loc, err := ParseURL(base)
	if err != nil {
		return "", err
	}
	return loc.Child(elems...).String(), nil
}

func cleanAbs(p string) string {
	return path.Clean("/" + p)
}

func cleanRel(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	return p
}
