// Package routepat compiles file-system route ids into matchable
// URL patterns.
//
// A route id is a slash-separated template where each segment is either
// literal text or a bracketed parameter:
//
//	/docs/intro              literal segments
//	/blog/[slug]             dynamic segment
//	/users/[id=integer]      dynamic segment with a matcher constraint
//	/files/[...path]         rest segment (matches any suffix)
//	/[[lang]]/home           optional segment
//
// Compilation is deterministic and side-effect free. Malformed ids are
// rejected by the route scanner before they reach this package, so
// Compile only guards against the handful of shapes it cannot express.
package routepat

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Params holds captured parameter values keyed by name.
type Params map[string]string

// Matcher reports whether a captured parameter value is acceptable.
type Matcher func(value string) bool

// Pattern is a compiled route id.
type Pattern struct {
	// ID is the original route id.
	ID string

	// Names are the parameter names in capture order.
	Names []string

	// Types maps parameter names to matcher names. Parameters without
	// a constraint are absent from the map.
	Types map[string]string

	re *regexp.Regexp
}

// Compile turns a route id into a Pattern.
func Compile(id string) (*Pattern, error) {
	p := &Pattern{ID: id}

	var b strings.Builder
	b.WriteString("^")

	segments := splitID(id)
	if len(segments) == 0 {
		b.WriteString("/?$")
		re, err := regexp.Compile(b.String())
		if err != nil {
			return nil, err
		}
		p.re = re
		return p, nil
	}

	for _, seg := range segments {
		switch {
		case strings.HasPrefix(seg, "[[") && strings.HasSuffix(seg, "]]"):
			name, matcher := splitParam(seg[2 : len(seg)-2])
			p.addParam(name, matcher)
			// The leading slash is part of the optional group so a
			// missing segment does not demand a double slash.
			b.WriteString("(?:/([^/]+))?")

		case strings.HasPrefix(seg, "[...") && strings.HasSuffix(seg, "]"):
			name, matcher := splitParam(seg[4 : len(seg)-1])
			p.addParam(name, matcher)
			b.WriteString("(?:/(.*))?")

		case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
			name, matcher := splitParam(seg[1 : len(seg)-1])
			p.addParam(name, matcher)
			b.WriteString("/([^/]+?)")

		default:
			if strings.ContainsAny(seg, "[]") {
				return nil, fmt.Errorf("route %q: segment %q mixes literal text and brackets", id, seg)
			}
			b.WriteString("/")
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}

	// Trailing slash never changes which route matches.
	b.WriteString("/?$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	p.re = re
	return p, nil
}

// MustCompile is Compile but panics on error. Intended for route ids
// already validated by the scanner.
func MustCompile(id string) *Pattern {
	p, err := Compile(id)
	if err != nil {
		panic(err)
	}
	return p
}

// Match tests a pathname against the pattern. The pathname is
// URL-decoded before comparison. On success the returned Params map
// holds one entry per captured parameter; rest parameters capture the
// remainder, which may be empty.
func (p *Pattern) Match(pathname string) (Params, bool) {
	decoded, err := url.PathUnescape(pathname)
	if err != nil {
		// Undecodable paths cannot have been produced by a link to
		// this route.
		return nil, false
	}

	m := p.re.FindStringSubmatch(decoded)
	if m == nil {
		return nil, false
	}

	params := make(Params, len(p.Names))
	for i, name := range p.Names {
		if i+1 < len(m) {
			params[name] = m[i+1]
		} else {
			params[name] = ""
		}
	}
	return params, true
}

// Satisfies applies matcher constraints to captured params. Unknown
// matcher names fail closed; the manifest builder verifies every
// referenced matcher exists before a pattern is served.
func (p *Pattern) Satisfies(params Params, matchers map[string]Matcher) bool {
	for name, matcherName := range p.Types {
		fn, ok := matchers[matcherName]
		if !ok {
			return false
		}
		if !fn(params[name]) {
			return false
		}
	}
	return true
}

// String returns the compiled regular expression source.
func (p *Pattern) String() string {
	return p.re.String()
}

func (p *Pattern) addParam(name, matcher string) {
	p.Names = append(p.Names, name)
	if matcher != "" {
		if p.Types == nil {
			p.Types = make(map[string]string)
		}
		p.Types[name] = matcher
	}
}

// splitParam separates "name=matcher" into its parts.
func splitParam(s string) (name, matcher string) {
	if idx := strings.Index(s, "="); idx != -1 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// splitID splits a route id into segments, dropping empty leading and
// trailing parts so "/a/b/" and "a/b" compile identically.
func splitID(id string) []string {
	id = strings.Trim(id, "/")
	if id == "" {
		return nil
	}
	return strings.Split(id, "/")
}
