// Package detect recognises rate-limit and overload messages coming from the
// application and turns them into throttled switch suggestions.
package detect

import (
	"regexp"
	"strings"
)

// quotaKeywords name an exhausted account quota or request rate.
var quotaKeywords = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"quota",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
	"exceeded your current quota",
	"usage limit",
}

// overloadKeywords name a backend that is out of capacity.
var overloadKeywords = []string{
	"overloaded",
	"model is overloaded",
	"capacity",
	"service unavailable",
	"try again later",
}

// statusPattern finds HTTP 429 and 503 only next to a word that introduces a
// status, so millisecond timestamps and durations such as "42.429" or "1429ms"
// are not mistaken for one.
var statusPattern = regexp.MustCompile(`(?i)\b(?:https?(?:/[0-9.]+)?|status|code|error|response|failed)\W{0,3}(429|503)\b`)

// DefaultKeywords returns the built-in keyword list, quota family first.
func DefaultKeywords() []string {
	out := make([]string, 0, len(quotaKeywords)+len(overloadKeywords))
	out = append(out, quotaKeywords...)
	return append(out, overloadKeywords...)
}

// Matcher is a case-insensitive substring test against a fixed keyword list,
// plus anchored HTTP status codes.
type Matcher struct {
	keywords []string
}

// NewMatcher builds a Matcher from the defaults plus extra. Blank extras are ignored.
func NewMatcher(extra ...string) *Matcher {
	keywords := DefaultKeywords()
	for _, kw := range extra {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Matcher{keywords: keywords}
}

// Matches reports whether text contains any keyword.
func (m *Matcher) Matches(text string) bool {
	_, ok := m.Match(text)
	return ok
}

// Match returns the first keyword found in text. A status code match reports
// the code itself as the keyword.
func (m *Matcher) Match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	if sub := statusPattern.FindStringSubmatch(text); sub != nil {
		return sub[1], true
	}
	return "", false
}
