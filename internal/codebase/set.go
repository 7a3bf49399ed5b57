package codebase

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEmptyPattern is returned for a blank whitelist entry.
	ErrEmptyPattern = errors.New("empty codebase pattern")
	// ErrInvalidPattern is returned for a whitelist entry no URL can match.
	ErrInvalidPattern = errors.New("invalid codebase pattern")
)

// Set is a list of matchers with OR semantics. An empty set matches nothing.
type Set struct {
	matchers []*Matcher
	withPath bool
}

// CompileSet compiles a whitespace separated list of patterns. Like Compile
// it never fails.
func CompileSet(s string, withPath bool) *Set {
	fields := strings.Fields(s)
	set := &Set{matchers: make([]*Matcher, 0, len(fields)), withPath: withPath}
	for _, f := range fields {
		set.matchers = append(set.matchers, Compile(f))
	}
	return set
}

// ParseWhitelist compiles configured whitelist entries, rejecting any entry
// that is blank or can never match a URL.
func ParseWhitelist(entries []string, withPath bool) (*Set, error) {
	set := &Set{matchers: make([]*Matcher, 0, len(entries)), withPath: withPath}
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if err := Validate(e); err != nil {
			return nil, fmt.Errorf("whitelist entry %d: %w", i, err)
		}
		set.matchers = append(set.matchers, Compile(e))
	}
	return set, nil
}

// Validate checks that a single pattern is usable as configuration.
func Validate(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}
	if strings.ContainsAny(pattern, " \t\r\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidPattern, pattern)
	}
	p := Split(pattern)
	if p.Protocol == "" {
		return fmt.Errorf("%w: %q has a protocol delimiter but no protocol", ErrInvalidPattern, pattern)
	}
	if p.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidPattern, pattern)
	}
	if strings.Trim(p.Port, "0123456789*") != "" {
		return fmt.Errorf("%w: %q has non-numeric port %q", ErrInvalidPattern, pattern, p.Port)
	}
	return nil
}

// Matches reports whether any member covers rawURL.
func (s *Set) Matches(rawURL string) bool {
	if s == nil {
		return false
	}
	t, ok := parseTarget(rawURL)
	if !ok {
		return false
	}
	for _, m := range s.matchers {
		if m.matchTarget(t, s.withPath) {
			return true
		}
	}
	return false
}

// MatchesURL is Matches for an already parsed URL.
func (s *Set) MatchesURL(u *url.URL) bool {
	if s == nil {
		return false
	}
	for _, m := range s.matchers {
		if m.MatchURL(u, s.withPath) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.matchers)
}

// Matchers returns the compiled members.
func (s *Set) Matchers() []*Matcher {
	if s == nil {
		return nil
	}
	return append([]*Matcher(nil), s.matchers...)
}

func (s *Set) String() string {
	if s == nil {
		return ""
	}
	parts := make([]string, len(s.matchers))
	for i, m := range s.matchers {
		parts[i] = m.String()
	}
	return strings.Join(parts, " ")
}
