package exclude

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher decides which vault-relative paths stay out of a sync. All
// patterns are compiled once; matching is case-sensitive. `*` matches
// within a single path segment, `**` crosses segment boundaries.
type Matcher struct {
	rules []rule
}

type rule struct {
	pattern  string
	compiled glob.Glob
	// dirOnly patterns ("name/") exclude the directory and its subtree
	dirOnly bool
	// baseOnly patterns contain no separator and match the final segment
	// at any depth
	baseOnly bool
}

// DefaultPatterns are excluded from every sync regardless of
// configuration
func DefaultPatterns() []string {
	return []string{
		".drivevault/",
		".git/",
		".DS_Store",
		"._*",
		"node_modules/",
		"vendor/",
		"*.tmp",
		"*.log",
		"*.lock",
		"*.swp",
		".env",
		".env.*",
		"*.key",
		"*.pem",
	}
}

// New compiles the default patterns plus the given extras. An invalid
// pattern fails the whole construction; a sync with a half-working
// ignore list is worse than no sync.
func New(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range append(DefaultPatterns(), patterns...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r := rule{pattern: p}
		if strings.HasSuffix(p, "/") {
			r.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		r.baseOnly = !strings.Contains(p, "/")

		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", r.pattern, err)
		}
		r.compiled = compiled
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// IsExcluded reports whether relPath (forward slashes, no leading "./")
// is ignored. Directory patterns exclude everything beneath the matched
// directory.
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")

	for _, r := range m.rules {
		if r.dirOnly {
			if matchesAnySegmentPrefix(r.compiled, relPath, r.baseOnly) {
				return true
			}
			continue
		}
		if r.baseOnly {
			if r.compiled.Match(path.Base(relPath)) {
				return true
			}
			continue
		}
		if r.compiled.Match(relPath) {
			return true
		}
	}
	return false
}

// matchesAnySegmentPrefix checks the path itself and each of its
// ancestor directories against a directory pattern. baseOnly directory
// patterns ("node_modules/") match a segment at any depth.
func matchesAnySegmentPrefix(g glob.Glob, relPath string, baseOnly bool) bool {
	if baseOnly {
		for _, segment := range strings.Split(relPath, "/") {
			if g.Match(segment) {
				return true
			}
		}
		return false
	}

	if g.Match(relPath) {
		return true
	}
	for prefix := relPath; ; {
		i := strings.LastIndex(prefix, "/")
		if i < 0 {
			return false
		}
		prefix = prefix[:i]
		if g.Match(prefix) {
			return true
		}
	}
}
