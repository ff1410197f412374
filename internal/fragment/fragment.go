// Package fragment flags full-content blocks that look elided or truncated.
package fragment

import (
	"regexp"
	"strings"

	"github.com/sokinpui/chatapply/model"
)

var (
	// A comment (or bare line) that is only an ellipsis, e.g. "// ..." or "...".
	ellipsisLineRegex = regexp.MustCompile(`^\s*(?://+|#+|--|;+|/\*+|<!--|\{/\*)?\s*(?:\.{3,}|…)\s*(?:\*+/|-->|\*/\})?\s*$`)

	// "rest of the code unchanged", "existing code", "remaining methods stay the same".
	unchangedRegex = regexp.MustCompile(`(?i)(?:\.{3}|…)?\s*(?:rest|remainder|remaining|other|existing|previous|unchanged|same as before)\b[^\n]{0,60}?\b(?:code|content|file|implementation|methods?|functions?|lines?|unchanged|same|here|as before|remains?|stays?)\b`)

	// Markers whose presence next to an elision strongly suggests a fragment.
	markerTokenRegex = regexp.MustCompile(`(?i)\b(?:unchanged|omitted|truncated|elided|snip(?:ped)?)\b`)
)

// minSuspiciousLines is the size below which a content block carrying an
// explicit marker token is treated as a fragment.
const minSuspiciousLines = 20

// CheckForTruncatedFragments reports whether any file looks truncated.
func CheckForTruncatedFragments(files []model.ClipboardFile) bool {
	for _, f := range files {
		if IsTruncated(f.Content) {
			return true
		}
	}
	return false
}

// IsTruncated applies the heuristics to one content block.
func IsTruncated(content string) bool {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if isCommentOrPlaceholder(line) && (ellipsisLineRegex.MatchString(line) || unchangedRegex.MatchString(line)) {
			return true
		}
	}
	return len(lines) < minSuspiciousLines && hasMarkerComment(lines)
}

// isCommentOrPlaceholder limits the phrase checks to comments and bare
// placeholder lines so that string literals in code do not trigger them.
func isCommentOrPlaceholder(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	for _, prefix := range []string{"//", "#", "--", ";", "/*", "*", "<!--", "{/*", "...", "…"} {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

func hasMarkerComment(lines []string) bool {
	for _, line := range lines {
		if isCommentOrPlaceholder(line) && markerTokenRegex.MatchString(line) {
			return true
		}
	}
	return false
}
