// Package ignore filters candidate file paths against shell-style glob
// patterns (`?`, `*`, `[...]`). A pattern matches a path if it matches the
// path itself or any of its '/'-prefixes, so `build/*` ignores everything
// below build/. A pattern without a separator additionally matches any single
// path segment, so `obj` ignores src/obj/main.o too.
package ignore

import (
	"path"
	"strings"

	"github.com/dawsync/dawsync/internal/debug"
)

// Matcher holds a compiled pattern list.
type Matcher struct {
	patterns []string
}

// New compiles the given patterns. Empty and malformed patterns are dropped.
func New(patterns []string) *Matcher {
	compiled := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		pat = normalize(pat)
		if _, err := path.Match(pat, ""); err != nil {
			debug.Log("dropping malformed pattern %q: %v", pat, err)
			continue
		}
		compiled = append(compiled, pat)
	}
	return &Matcher{patterns: compiled}
}

// normalize converts Windows path separators to '/'. Client paths arrive in
// whatever form the uploading OS produced, independent of the server OS.
func normalize(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Len returns the number of usable patterns.
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// Match returns true if p should be ignored.
func (m *Matcher) Match(p string) bool {
	if len(m.patterns) == 0 || p == "" {
		return false
	}

	p = normalize(p)
	segments := strings.Split(p, "/")

	for _, pat := range m.patterns {
		if matchOne(pat, p, segments) {
			return true
		}
	}
	return false
}

func matchOne(pat, p string, segments []string) bool {
	if ok, _ := path.Match(pat, p); ok {
		return true
	}

	// any prefix path obtained by splitting on '/'
	for i := 1; i < len(segments); i++ {
		prefix := strings.Join(segments[:i], "/")
		if ok, _ := path.Match(pat, prefix); ok {
			return true
		}
	}

	// a bare pattern matches any single segment at any depth
	if !strings.Contains(pat, "/") {
		for _, seg := range segments {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}

	return false
}

// Filter returns the paths from candidates that are not ignored and the
// number of ignored entries.
func (m *Matcher) Filter(candidates []string) (kept []string, ignored int) {
	kept = candidates[:0]
	for _, p := range candidates {
		if m.Match(p) {
			ignored++
			continue
		}
		kept = append(kept, p)
	}
	return kept, ignored
}
