package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
//   - Unescaped backslashes become forward slashes (Windows compat)
//   - Escaped glob metacharacters are preserved (\*, \?, \[, ...)
//
// Examples:
//
//	"results\2026\run.csv" → "results/2026/run.csv"
//	"out/file\*.txt"       → "out/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
//	"out/file.txt"      → false
//	"out/.cache/x.bin"  → true
//	"out/file.txt."     → false
func IsHidden(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && seg != "." && seg != ".." && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
