package console

import (
	"errors"
	"strings"
)

// Wait errors
var (
	ErrWaitTimeout   = errors.New("console: expectation not met before deadline")
	ErrSessionClosed = errors.New("console: session closed while waiting")
)

// Pattern is a literal substring expectation, optionally containing '*'
// wildcards. A wildcard matches any run of bytes, including none. This is
// deliberately not a regex language: prompts are matched by plain substring
// search, nothing more.
type Pattern struct {
	raw      string
	segments []string
}

// NewPattern compiles a pattern string.
func NewPattern(s string) Pattern {
	var segments []string
	for _, seg := range strings.Split(s, "*") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return Pattern{raw: s, segments: segments}
}

// String returns the original pattern text.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether the pattern occurs in b. On a match it returns the
// index just past the end of the match, so the caller can advance the
// transcript offset beyond it.
func (p Pattern) Match(b []byte) (end int, ok bool) {
	if len(p.segments) == 0 {
		// A pattern of only wildcards matches anything, including nothing.
		return 0, true
	}
	s := string(b)
	pos := 0
	for _, seg := range p.segments {
		i := strings.Index(s[pos:], seg)
		if i < 0 {
			return 0, false
		}
		pos += i + len(seg)
	}
	return pos, true
}
