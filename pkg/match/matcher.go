// Package match selects the files a task reads or writes, using doublestar
// glob semantics over slash-separated relative paths.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchAll is the selector applied when a task declares no file selectors.
const MatchAll = "**"

// Matcher evaluates selectors against relative file paths.
//
//   - Include patterns: a path must match at least one
//   - Exclude patterns: a path must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	prefixes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns; an empty list selects everything.
	Includes []string

	Excludes []string

	// IncludeHidden matches paths with a segment starting with '.' even when
	// no include pattern names a hidden segment explicitly.
	IncludeHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New compiles a Matcher. Patterns are normalized so Windows-style
// separators work; blank patterns are ignored.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	if len(includes) == 0 {
		includes = []string{MatchAll}
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	hidden := cfg.IncludeHidden
	for _, p := range includes {
		if IsHidden(p) {
			hidden = true
		}
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		prefixes:      DerivePrefixes(includes),
		includeHidden: hidden,
	}, nil
}

// Selectors is shorthand for New(Config{Includes: patterns}).
func Selectors(patterns []string) (*Matcher, error) {
	return New(Config{Includes: patterns})
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		p := strings.TrimPrefix(NormalizePattern(r), "/")
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether the relative path is selected.
func (m *Matcher) Match(path string) bool {
	path = strings.TrimPrefix(path, "/")
	if !m.includeHidden && IsHidden(path) {
		return false
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, path) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, exc := range m.excludes {
		if matchPattern(exc, path) {
			return false
		}
	}
	return true
}

// Prefixes returns deduplicated static prefixes that bound every match.
// An empty string means a full listing is required.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// MatchesAll reports whether the matcher selects every non-hidden path.
func (m *Matcher) MatchesAll() bool {
	if len(m.excludes) > 0 {
		return false
	}
	for _, p := range m.includes {
		if p == MatchAll {
			return true
		}
	}
	return false
}

func matchPattern(pattern, path string) bool {
	// Patterns are validated at construction time.
	matched, err := doublestar.Match(pattern, path)
	return err == nil && matched
}
