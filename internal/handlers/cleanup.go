package handlers

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRegex = regexp.MustCompile(`(?s)^<think>.*?</think>`)
	fenceOpenRegex  = regexp.MustCompile("^```[^\\n`]*(?:\\n|$)")
	fenceCloseRegex = regexp.MustCompile("(?:^|\\n)```[ \\t]*$")
	doctypeRegex    = regexp.MustCompile(`(?i)^<!DOCTYPE\s+([^>]*)>`)
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

// CleanupResponse removes wrapper markup a model may echo around a file: a
// leading <think> block, code fences, CDATA markers and non-HTML doctype
// declarations. Both ends are stripped repeatedly until nothing matches, so
// running it on its own output changes nothing.
func CleanupResponse(text string) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")

	for {
		prev := s

		head := strings.TrimLeft(s, " \t\n")
		switch {
		case thinkBlockRegex.MatchString(head):
			head = thinkBlockRegex.ReplaceAllString(head, "")
			s = head
		case fenceOpenRegex.MatchString(head):
			s = fenceOpenRegex.ReplaceAllString(head, "")
		case strings.HasPrefix(head, cdataOpen):
			s = strings.TrimPrefix(head, cdataOpen)
		default:
			if m := doctypeRegex.FindStringSubmatch(head); m != nil && !strings.HasPrefix(strings.ToLower(m[1]), "html") {
				s = head[len(m[0]):]
			}
		}

		tail := strings.TrimRight(s, " \t\n")
		switch {
		case fenceCloseRegex.MatchString(tail):
			s = fenceCloseRegex.ReplaceAllString(tail, "")
		case strings.HasSuffix(tail, cdataClose):
			s = strings.TrimSuffix(tail, cdataClose)
		}

		if s == prev {
			break
		}
	}

	s = strings.TrimLeft(s, "\n")
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return ""
	}
	return s + "\n"
}
