// Package filter evaluates ordered include/exclude patterns against
// separator-normalized relative paths.
package filter

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// Polarity indicates whether a matching rule keeps or drops a path.
type Polarity uint8

const (
	// PolarityInclude keeps matching paths.
	PolarityInclude Polarity = iota
	// PolarityExclude drops matching paths.
	PolarityExclude
)

// Kind classifies the matching behavior of a pattern.
type Kind uint8

const (
	// KindWildcard is a single-segment name pattern (e.g. "*.log") that
	// matches the trailing segment at any depth.
	KindWildcard Kind = iota
	// KindDirectory is a trailing-slash pattern (e.g. "build/") that matches
	// the named directory and every descendant.
	KindDirectory
	// KindAbsolute is a leading-slash pattern anchored to the tree root.
	KindAbsolute
	// KindPathful is a multi-segment pattern (e.g. "docs/*.md") that matches
	// at any depth, with the final segment required to be the tail of the
	// path.
	KindPathful
)

// Rule is a single compiled filter pattern.
type Rule struct {
	// Pattern is the original pattern text.
	Pattern string
	// Polarity indicates include or exclude.
	Polarity Polarity
	// Kind is the pattern's matching class.
	Kind Kind
	// name is the normalized pattern with anchoring separators stripped.
	name string
	// anchored pins directory patterns to the tree root.
	anchored bool
}

// NewRule parses and validates a pattern. Malformed patterns are rejected at
// load time.
func NewRule(pattern string, polarity Polarity) (Rule, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return Rule{}, errors.New("empty pattern")
	}

	// Classify the pattern.
	rule := Rule{Pattern: pattern, Polarity: polarity}
	switch {
	case strings.HasSuffix(trimmed, "/"):
		rule.Kind = KindDirectory
		rule.anchored = strings.HasPrefix(trimmed, "/")
		rule.name = strings.Trim(trimmed, "/")
	case strings.HasPrefix(trimmed, "/"):
		rule.Kind = KindAbsolute
		rule.name = strings.TrimPrefix(trimmed, "/")
	case strings.Contains(trimmed, "/"):
		rule.Kind = KindPathful
		rule.name = trimmed
	default:
		rule.Kind = KindWildcard
		rule.name = trimmed
	}

	// Validate glob syntax up front so that a malformed rule fails the
	// session instead of silently matching nothing.
	if !doublestar.ValidatePattern(rule.name) {
		return Rule{}, errors.Errorf("invalid pattern: %s", pattern)
	}

	// Success.
	return rule, nil
}

// Matches evaluates the rule against a slash-separated relative path.
func (r Rule) Matches(path string) bool {
	switch r.Kind {
	case KindDirectory:
		return r.matchesDirectory(path)
	case KindAbsolute:
		return match(r.name, path)
	case KindPathful:
		return r.matchesPathful(path)
	default:
		return match("**/"+r.name, path)
	}
}

// matchesDirectory checks a directory rule: the named directory itself and
// everything beneath it, at any depth unless the pattern was anchored.
func (r Rule) matchesDirectory(path string) bool {
	if match(r.name, path) || match(r.name+"/**", path) {
		return true
	}
	if r.anchored {
		return false
	}
	return match("**/"+r.name, path) || match("**/"+r.name+"/**", path)
}

// matchesPathful checks a multi-segment rule. The pattern may float to any
// depth, but its final segment must be the final segment of the path - a
// pattern like "docs/*.md" doesn't match files in subdirectories of docs.
func (r Rule) matchesPathful(path string) bool {
	// Patterns containing a cross-segment glob are evaluated whole, both
	// anchored and floating.
	if strings.Contains(r.name, "**") {
		return match(r.name, path) || match("**/"+r.name, path)
	}

	// Otherwise align the pattern's segments with the tail of the path.
	patternParts := strings.Split(r.name, "/")
	pathParts := strings.Split(path, "/")
	if len(pathParts) < len(patternParts) {
		return false
	}
	tail := pathParts[len(pathParts)-len(patternParts):]
	for i, p := range patternParts {
		if !match(p, tail[i]) {
			return false
		}
	}
	return true
}

// match evaluates a doublestar pattern, treating evaluation errors (which
// can't occur for validated patterns) as non-matches.
func match(pattern, path string) bool {
	matched, err := doublestar.Match(pattern, path)
	return err == nil && matched
}
