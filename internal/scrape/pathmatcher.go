package scrape

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExcludePatterns skip pages that never carry offerings or company
// details: documents, media, admin screens and checkout flows.
var DefaultExcludePatterns = []string{
	"*.pdf", "*.jpg", "*.jpeg", "*.png", "*.webp", "*.zip", "*.docx",
	"/wp-admin/*", "/wp-login.php", "/wp-json/*",
	"/cart/*", "/checkout/*", "/account/*", "/login",
	"/sepet/*", "/odeme/*", "/hesabim/*", "/uploads/*",
}

type ruleKind int

const (
	ruleExt    ruleKind = iota // "*.pdf": file extension at any depth
	rulePrefix                 // "/blog/*": the directory and everything below
	ruleGlob                   // anything else, matched with path.Match
)

type pathRule struct {
	kind ruleKind
	arg  string
}

func compileRule(pattern string) pathRule {
	p := strings.ToLower(strings.TrimSpace(pattern))
	switch {
	case strings.HasPrefix(p, "*.") && !strings.ContainsAny(p[2:], "/*?["):
		return pathRule{kind: ruleExt, arg: p[1:]}
	case strings.HasSuffix(p, "/*") && !strings.ContainsAny(p[:len(p)-2], "*?["):
		return pathRule{kind: rulePrefix, arg: strings.TrimSuffix(p, "/*")}
	default:
		return pathRule{kind: ruleGlob, arg: p}
	}
}

func (r pathRule) match(p string) bool {
	switch r.kind {
	case ruleExt:
		return strings.HasSuffix(p, r.arg)
	case rulePrefix:
		return p == r.arg || strings.HasPrefix(p, r.arg+"/")
	default:
		ok, _ := path.Match(r.arg, p)
		return ok
	}
}

// PathMatcher excludes URLs whose path matches any of a set of patterns.
// Matching is case-insensitive. "*.ext" matches an extension anywhere,
// "/dir/*" matches the directory and all of its descendants, and any
// other pattern is a single-segment glob.
type PathMatcher struct {
	patterns []string
	rules    []pathRule
}

// NewPathMatcher compiles patterns, using DefaultExcludePatterns when none
// are given.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = DefaultExcludePatterns
	}
	m := &PathMatcher{patterns: patterns, rules: make([]pathRule, 0, len(patterns))}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m.rules = append(m.rules, compileRule(p))
	}
	return m
}

// Patterns returns the source patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL should not be scraped. Unparsable URLs
// are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, r := range m.rules {
		if r.match(p) {
			return true
		}
	}
	return false
}
