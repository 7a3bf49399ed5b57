// Package codebase compiles wildcarded origin patterns of the form
// protocol://host:port/path and tests URLs against them.
//
// Segment wildcards follow the manifest codebase rules: "*" matches
// anything, "pre*", "*suf" and "*mid*" match prefixes, suffixes and
// substrings, anything else matches literally. A host pattern "*.x.com"
// matches x.com itself as well as every subdomain of it.
package codebase

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	protocolDelimiter = "://"
	pathDelimiter     = "/"
	portDelimiter     = ":"
	wildcard          = "*"
)

// Parts is a pattern split into its four segments. Omitted port and path
// segments are "*"; an omitted protocol is "*".
type Parts struct {
	Protocol string
	Host     string
	Port     string
	Path     string
}

func (p Parts) String() string {
	return p.Protocol + protocolDelimiter + p.Host + portDelimiter + p.Port + pathDelimiter + p.Path
}

// Matcher is a compiled pattern. It is immutable and safe for concurrent use.
type Matcher struct {
	source   string
	parts    Parts
	protocol *regexp.Regexp
	host     *regexp.Regexp
	port     *regexp.Regexp
	path     *regexp.Regexp
}

// Compile compiles a single pattern. It never fails: every string yields a
// matcher, although a nonsensical one may match nothing.
func Compile(source string) *Matcher {
	p := Split(source)
	return &Matcher{
		source:   source,
		parts:    p,
		protocol: segmentRegexp(p.Protocol),
		host:     hostRegexp(strings.ToLower(p.Host)),
		port:     segmentRegexp(p.Port),
		path:     segmentRegexp(p.Path),
	}
}

// Parts returns the pattern's segments.
func (m *Matcher) Parts() Parts { return m.parts }

func (m *Matcher) String() string { return m.source }

// Match reports whether rawURL's protocol, host and port are covered.
// Malformed URLs never match.
func (m *Matcher) Match(rawURL string) bool {
	t, ok := parseTarget(rawURL)
	return ok && m.matchTarget(t, false)
}

// MatchWithPath is Match that also requires the path to be covered. The
// path is tried both as given and with trailing slashes removed.
func (m *Matcher) MatchWithPath(rawURL string) bool {
	t, ok := parseTarget(rawURL)
	return ok && m.matchTarget(t, true)
}

// MatchURL matches an already parsed URL.
func (m *Matcher) MatchURL(u *url.URL, withPath bool) bool {
	t, ok := targetFromURL(u)
	return ok && m.matchTarget(t, withPath)
}

func (m *Matcher) matchTarget(t target, withPath bool) bool {
	if !m.port.MatchString(t.port) || !m.protocol.MatchString(t.protocol) || !m.host.MatchString(t.host) {
		return false
	}
	if !withPath {
		return true
	}
	return m.matchPath(strings.TrimRight(t.path, `/\`)) || m.matchPath(t.path)
}

func (m *Matcher) matchPath(p string) bool {
	return m.path.MatchString(strings.TrimPrefix(p, pathDelimiter))
}

// Split breaks a pattern into segments using first-occurrence delimiters:
// protocol on "://", then path on "/", then port on ":".
func Split(source string) Parts {
	var p Parts
	rest := source
	if hasProtocol(source) {
		p.Protocol, rest, _ = strings.Cut(source, protocolDelimiter)
	} else {
		p.Protocol = wildcard
	}

	hostPort, path, found := strings.Cut(rest, pathDelimiter)
	p.Path = wildcard
	if found && path != "" {
		p.Path = path
	}

	host, port, found := strings.Cut(hostPort, portDelimiter)
	p.Host = host
	p.Port = wildcard
	if found && port != "" {
		p.Port = port
	}
	return p
}

// hasProtocol decides whether a "://" in source separates a protocol, as
// opposed to appearing later inside a host or path.
func hasProtocol(source string) bool {
	mark := strings.Index(source, protocolDelimiter)
	if mark < 0 {
		return false
	}
	if dot := strings.Index(source, "."); dot >= 0 {
		return mark < dot
	}
	masked := strings.Replace(source, protocolDelimiter, "%%%", -1)
	if slash := strings.Index(masked, pathDelimiter); slash >= 0 {
		return mark < slash
	}
	return true
}

func segmentRegexp(s string) *regexp.Regexp {
	return regexp.MustCompile(segmentExpr(s))
}

func segmentExpr(s string) string {
	if s == wildcard {
		return ".*"
	}
	return wildcardExpr(s)
}

func wildcardExpr(s string) string {
	switch {
	case len(s) >= 2 && strings.HasPrefix(s, wildcard) && strings.HasSuffix(s, wildcard):
		return "^.*" + regexp.QuoteMeta(s[1:len(s)-1]) + ".*$"
	case strings.HasSuffix(s, wildcard):
		return "^" + regexp.QuoteMeta(s[:len(s)-1]) + ".*$"
	case strings.HasPrefix(s, wildcard):
		return "^.*" + regexp.QuoteMeta(s[1:]) + "$"
	}
	return "^" + regexp.QuoteMeta(s) + "$"
}

// hostRegexp also lets "*.x" match the bare domain x.
func hostRegexp(host string) *regexp.Regexp {
	if strings.HasPrefix(host, "*.") {
		return regexp.MustCompile("(" + wildcardExpr(host[2:]) + ")|(" + segmentExpr(host) + ")")
	}
	return segmentRegexp(host)
}

type target struct {
	protocol string
	host     string
	port     string
	path     string
}

func parseTarget(raw string) (target, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, false
	}
	t, ok := targetFromURL(u)
	if !ok {
		return target{}, false
	}
	t.path = rawPath(raw)
	return t, true
}

func targetFromURL(u *url.URL) (target, bool) {
	if u == nil || u.Scheme == "" || u.Opaque != "" {
		return target{}, false
	}
	t := target{
		protocol: strings.ToLower(u.Scheme),
		host:     strings.ToLower(u.Hostname()),
		path:     u.EscapedPath(),
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return target{}, false
		}
		t.port = strconv.Itoa(n)
	} else if d := DefaultPort(t.protocol); d != "" {
		t.port = d
	} else {
		t.port = "-1"
	}
	return t, true
}

// rawPath returns the path of raw exactly as written, without the
// percent-encoding normalization net/url applies.
func rawPath(raw string) string {
	_, rest, ok := strings.Cut(raw, protocolDelimiter)
	if !ok {
		return ""
	}
	i := strings.IndexAny(rest, "/?#")
	if i < 0 || rest[i] != '/' {
		return ""
	}
	rest = rest[i:]
	if j := strings.IndexAny(rest, "?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// DefaultPort returns the well-known port for a URL scheme, or "" if unknown.
func DefaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	case "ftp":
		return "21"
	}
	return ""
}
