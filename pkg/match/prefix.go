package match

import (
	"sort"
	"strings"
)

// DerivePrefix extracts the longest static directory prefix from a glob
// pattern, so listings can be narrowed before matching.
//
//	"logs/2026/**/*.log"  → "logs/2026/"
//	"*.json"              → ""
//	"out/app-{a,b}/*.txt" → "out/"
//	"exact/path/file.txt" → "exact/path/file.txt"
//	"data/file\*.txt"     → "data/file*.txt" (escaped * is literal)
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}
	pattern = NormalizePattern(pattern)

	metaIdx := findFirstUnescapedMeta(pattern)
	switch metaIdx {
	case -1:
		return unescapePrefix(pattern)
	case 0:
		return ""
	}

	// Truncate to the last complete path segment: "data/2024-" → "data/".
	prefix := pattern[:metaIdx]
	if lastSlash := strings.LastIndex(prefix, "/"); lastSlash >= 0 {
		return unescapePrefix(prefix[:lastSlash+1])
	}
	return ""
}

// findFirstUnescapedMeta returns the index of the first unescaped glob
// metacharacter (* ? [ {), or -1.
func findFirstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			switch pattern[i+1] {
			case '*', '?', '[', '{', '\\':
				i++
			}
			continue
		}
		if c == '*' || c == '?' || c == '[' || c == '{' {
			return i
		}
	}
	return -1
}

// unescapePrefix turns glob escape syntax into literal key characters.
func unescapePrefix(prefix string) string {
	if !strings.ContainsRune(prefix, '\\') {
		return prefix
	}

	var b strings.Builder
	b.Grow(len(prefix))
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '\\' && i+1 < len(prefix) && strings.IndexByte(globEscapable, prefix[i+1]) >= 0 {
			b.WriteByte(prefix[i+1])
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// DerivePrefixes derives one prefix per pattern and drops prefixes subsumed
// by shorter ones. The result is sorted; [""] means a full listing.
//
//	["out/a/**", "out/b/**"] → ["out/a/", "out/b/"]
//	["out/**", "out/a/**"]   → ["out/"]
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}

	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		pre := DerivePrefix(p)
		if pre == "" {
			return []string{""}
		}
		prefixes = append(prefixes, pre)
	}

	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) < len(prefixes[j]) })
	out := make([]string, 0, len(prefixes))
	for _, cand := range prefixes {
		subsumed := false
		for _, kept := range out {
			if strings.HasPrefix(cand, kept) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			out = append(out, cand)
		}
	}
	sort.Strings(out)
	return out
}
