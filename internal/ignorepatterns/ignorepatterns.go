// Package ignorepatterns implements glob-based ignore matching for indexed
// folders (spec §4.A): patterns are relative to the folder root, later
// patterns refine earlier ones, and a negated pattern can unignore content
// matched by an earlier rule. The parsing and matching rules mirror the
// teacher's pkg/synchronization/core ignore pattern parser; only the
// doublestar matcher declared in go.mod is used, rather than pulling in an
// additional unused vendor dependency for the same job.
package ignorepatterns

import (
	"errors"
	"fmt"
	pathpkg "path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Defaults are always prepended to a folder's own pattern list so that
// version control and the daemon's own per-folder metadata are never
// scanned, regardless of user configuration.
var Defaults = []string{
	".git/**",
	"node_modules/**",
	".folder-mcp/**",
}

// pattern represents a single parsed ignore pattern.
type pattern struct {
	// negated indicates whether the pattern unignores rather than ignores.
	negated bool
	// directoryOnly indicates the pattern should only match directories.
	directoryOnly bool
	// matchLeaf indicates the pattern should also be matched against a path's
	// base name, for patterns with no slash and no leading slash.
	matchLeaf bool
	// glob is the pattern to use for matching, with negation/anchor/trailing
	// slash markers already stripped.
	glob string
}

// cleanPreservingTrailingSlash cleans a path while keeping a trailing slash,
// since path.Clean would otherwise strip the directory-only marker.
func cleanPreservingTrailingSlash(p string) string {
	var trailingSlash bool
	if l := len(p); l > 1 {
		trailingSlash = p[l-1] == '/'
	}
	cleaned := pathpkg.Clean(p)
	if trailingSlash {
		return cleaned + "/"
	}
	return cleaned
}

// newPattern validates and parses a single ignore pattern.
func newPattern(raw string) (*pattern, error) {
	if raw == "" {
		return nil, errors.New("empty pattern")
	}

	negated := false
	if raw[0] == '!' {
		negated = true
		raw = raw[1:]
	}
	if raw == "" {
		return nil, errors.New("negated empty pattern")
	}

	raw = cleanPreservingTrailingSlash(raw)
	if raw == "/" {
		return nil, errors.New("root pattern")
	} else if raw == "//" {
		return nil, errors.New("root directory pattern")
	}

	absolute := false
	if raw[0] == '/' {
		absolute = true
		raw = raw[1:]
	}

	directoryOnly := false
	if raw[len(raw)-1] == '/' {
		directoryOnly = true
		raw = raw[:len(raw)-1]
	}

	containsSlash := strings.IndexByte(raw, '/') >= 0

	if _, err := doublestar.Match(raw, "a"); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
	}

	return &pattern{
		negated:       negated,
		directoryOnly: directoryOnly,
		matchLeaf:     !absolute && !containsSlash,
		glob:          raw,
	}, nil
}

// matches reports whether the pattern applies to path (folder-root-relative,
// forward-slash separated, no leading slash).
func (p *pattern) matches(path string, directory bool) bool {
	if p.directoryOnly && !directory {
		return false
	}
	if match, _ := doublestar.Match(p.glob, path); match {
		return true
	}
	if p.matchLeaf && path != "" {
		if match, _ := doublestar.Match(p.glob, pathpkg.Base(path)); match {
			return true
		}
	}
	return false
}

// Matcher evaluates a path against an ordered list of ignore patterns.
// Matcher is not safe for concurrent use by multiple goroutines during
// construction, but Ignore is read-only and may be called concurrently once
// built.
type Matcher struct {
	patterns []*pattern
}

// Valid reports whether raw is a syntactically valid ignore pattern.
func Valid(raw string) bool {
	_, err := newPattern(raw)
	return err == nil
}

// New builds a Matcher from the given user patterns, with Defaults always
// applied first so they can never be overridden by a missing configuration.
func New(userPatterns []string) (*Matcher, error) {
	all := make([]string, 0, len(Defaults)+len(userPatterns))
	all = append(all, Defaults...)
	all = append(all, userPatterns...)

	parsed := make([]*pattern, 0, len(all))
	for _, raw := range all {
		p, err := newPattern(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to parse ignore pattern %q: %w", raw, err)
		}
		parsed = append(parsed, p)
	}

	return &Matcher{patterns: parsed}, nil
}

// Ignore reports whether path (folder-root-relative, forward-slash
// separated) should be ignored. Patterns are evaluated in order, with later
// patterns able to both ignore and unignore content matched by earlier ones,
// matching the teacher's precedence rule for its own ignore syntax.
func (m *Matcher) Ignore(path string, directory bool) bool {
	path = strings.TrimPrefix(path, "/")

	ignored := false
	for _, p := range m.patterns {
		if !p.matches(path, directory) {
			continue
		}
		ignored = !p.negated
	}
	return ignored
}
