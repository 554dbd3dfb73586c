package policy

import (
	"regexp"
	"strings"
)

// globMetacharacters are the regex metacharacters that must be escaped
// when translating a glob pattern to a regex, per spec: . + ^ $ { } ( ) | [ ] \
var globMetacharacters = ".+^${}()|[]\\"

// compileGlob turns a glob pattern (`*` = zero or more, `?` = exactly
// one) into a compiled regex anchored to a full match. `*` alone is
// treated as a universal matcher without compiling a regex at all.
// Returns nil when the pattern is the universal wildcard.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			if strings.ContainsRune(globMetacharacters, r) {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// globMatch reports whether value matches the glob pattern. An exact,
// non-wildcard pattern is compared directly (fast path); `*` alone
// always matches; a pattern that fails to compile falls back to exact
// string equality, per spec.
func globMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	re, err := compileGlob(pattern)
	if err != nil {
		return pattern == value
	}
	return re.MatchString(value)
}

// anyGlobMatch reports whether value matches at least one pattern.
func anyGlobMatch(patterns []string, value string) (bool, string) {
	for _, p := range patterns {
		if globMatch(p, value) {
			return true, p
		}
	}
	return false, ""
}
