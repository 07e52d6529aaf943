// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"regexp"
)

// Filter is the immutable scope/name pattern set an Index is
// constructed with. Patterns are RE2 regular expressions matched
// unanchored; a nil scope pattern (or empty name pattern list)
// matches everything. The zero value matches everything.
type Filter struct {
	scope *regexp.Regexp
	names []*regexp.Regexp
}

// NewFilter compiles a Filter from a scope pattern and zero or more
// name patterns. Empty strings are treated as match-all.
func NewFilter(scopePattern string, namePatterns ...string) (Filter, error) {
	var f Filter
	if scopePattern != "" {
		compiled, err := regexp.Compile(scopePattern)
		if err != nil {
			return Filter{}, fmt.Errorf("scope pattern %q: %w", scopePattern, err)
		}
		f.scope = compiled
	}
	for _, pattern := range namePatterns {
		if pattern == "" {
			continue
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return Filter{}, fmt.Errorf("name pattern %q: %w", pattern, err)
		}
		f.names = append(f.names, compiled)
	}
	return f, nil
}

// MatchAll returns the filter that accepts every scope and name.
func MatchAll() Filter { return Filter{} }

// MatchScope reports whether the scope name passes the scope pattern.
func (f Filter) MatchScope(scope string) bool {
	return f.scope == nil || f.scope.MatchString(scope)
}

// MatchName reports whether the series name passes any name pattern.
func (f Filter) MatchName(name string) bool {
	if len(f.names) == 0 {
		return true
	}
	for _, pattern := range f.names {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// Match reports whether the (scope, name) pair passes both patterns.
func (f Filter) Match(scope, name string) bool {
	return f.MatchScope(scope) && f.MatchName(name)
}
