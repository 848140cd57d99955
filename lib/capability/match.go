// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"path"
	"strings"
)

// MatchResource checks whether a concrete resource URI matches a
// resource pattern. Both sides are "scheme://rest" strings; the scheme
// must match exactly (or the pattern scheme is "*"), and the rest is
// matched segment-wise with glob semantics:
//
//   - Exact: "file:///etc/hosts" matches only that path
//   - Single segment: "file:///tmp/data/*" matches "file:///tmp/data/a.txt"
//     but not "file:///tmp/data/sub/b.txt"
//   - Recursive: "file:///tmp/data/**" matches anything under /tmp/data,
//     including /tmp/data itself
//   - Interior recursive: "http://api.example.com/**/status"
//   - Character: "?" matches a single non-slash character
//
// Returns false for malformed patterns rather than propagating errors —
// a malformed pattern must never grant access.
func MatchResource(pattern, resource string) bool {
	patternScheme, patternRest, ok := splitResource(pattern)
	if !ok {
		return false
	}
	resourceScheme, resourceRest, ok := splitResource(resource)
	if !ok {
		return false
	}

	if patternScheme != "*" && patternScheme != resourceScheme {
		return false
	}
	return matchSegments(patternRest, resourceRest)
}

// splitResource splits "scheme://rest" and normalizes the rest by
// trimming a leading slash so "file:///tmp/x" and a pattern written as
// "file://tmp/x" segment identically.
func splitResource(s string) (scheme, rest string, ok bool) {
	scheme, rest, ok = strings.Cut(s, "://")
	if !ok || scheme == "" {
		return "", "", false
	}
	return scheme, strings.TrimPrefix(rest, "/"), true
}

// matchSegments implements glob matching over "/"-separated strings.
func matchSegments(pattern, s string) bool {
	// Universal match.
	if pattern == "**" {
		return true
	}

	// No ** — path.Match handles single-segment * and ? (neither
	// crosses "/").
	if !strings.Contains(pattern, "**") {
		matched, err := path.Match(pattern, s)
		return err == nil && matched
	}

	// Suffix: "tmp/data/**" — the prefix must match, then anything
	// (including nothing) after.
	if prefix, found := strings.CutSuffix(pattern, "/**"); found {
		if matchGlob(prefix, s) {
			return true
		}
		return hasMatchingPrefix(prefix, s)
	}

	// Interior: "api/**/status" — prefix and suffix match
	// independently, ** consumes zero or more whole segments between.
	if i := strings.Index(pattern, "/**/"); i >= 0 {
		prefix := pattern[:i]
		suffix := pattern[i+4:]

		if matchGlob(prefix+"/"+suffix, s) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(s, "/")
		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Leading "**/..." or other arrangements are not part of the
	// resource grammar. Deny rather than guess.
	return false
}

func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// hasMatchingPrefix reports whether s starts with segments matching
// the pattern, with at least one more segment after them.
func hasMatchingPrefix(pattern, s string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(s, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// Specificity scores a pattern for tie-breaking between multiple
// matching tokens: lower is more specific. Each "*" segment costs 1,
// each "?" costs 1, and "**" costs 100 since it matches unboundedly.
// An exact pattern scores 0 and always wins.
func Specificity(pattern string) int {
	_, rest, ok := splitResource(pattern)
	if !ok {
		return 1 << 20
	}
	score := 0
	for _, segment := range strings.Split(rest, "/") {
		switch {
		case segment == "**":
			score += 100
		case strings.ContainsAny(segment, "*?"):
			score++
		}
	}
	return score
}

// PatternWithin reports whether everything the child pattern can match
// is also matched by the parent pattern. Used for the delegation
// narrowing check. The comparison is segment-wise and conservative:
//
//   - parent "**" covers any remaining child segments
//   - parent "*" covers one child segment unless the child segment is "**"
//   - a literal parent segment covers only an identical child segment
//
// Conservative means a pattern pair this function cannot prove is
// narrowing gets rejected, never silently allowed.
func PatternWithin(child, parent string) bool {
	childScheme, childRest, ok := splitResource(child)
	if !ok {
		return false
	}
	parentScheme, parentRest, ok := splitResource(parent)
	if !ok {
		return false
	}

	if parentScheme != "*" && parentScheme != childScheme {
		return false
	}

	childSegments := strings.Split(childRest, "/")
	parentSegments := strings.Split(parentRest, "/")

	for i, parentSegment := range parentSegments {
		if parentSegment == "**" {
			// Parent covers the rest of the child unconditionally.
			return true
		}
		if i >= len(childSegments) {
			// Parent requires more segments than the child has.
			return false
		}
		childSegment := childSegments[i]
		if childSegment == "**" {
			// Unbounded child under a bounded parent segment.
			return false
		}
		if !segmentCovers(parentSegment, childSegment) {
			return false
		}
	}
	return len(childSegments) == len(parentSegments)
}

// segmentCovers reports whether a single parent segment covers a
// single child segment.
func segmentCovers(parent, child string) bool {
	if parent == "*" {
		return true
	}
	if !strings.ContainsAny(parent, "*?") {
		return parent == child
	}
	// Parent has partial wildcards ("build-*"). If the child is
	// literal, glob-match it; if the child itself has wildcards, only
	// an identical pattern is provably narrower.
	if strings.ContainsAny(child, "*?") {
		return parent == child
	}
	return matchGlob(parent, child)
}
