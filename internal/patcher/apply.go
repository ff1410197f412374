package patcher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHunkMismatch is returned when a hunk's old lines are not in the file.
	ErrHunkMismatch = errors.New("hunk does not match file content")
	// ErrEmptyPatch is returned for patch text without any file section.
	ErrEmptyPatch = errors.New("patch contains no hunks")
)

// text is file content split into lines with its line-ending style.
type text struct {
	lines    []string
	trailing bool
	crlf     bool
}

func splitText(s string) text {
	t := text{crlf: strings.Contains(s, "\r\n")}
	if t.crlf {
		s = strings.ReplaceAll(s, "\r\n", "\n")
	}
	if s == "" {
		return t
	}
	t.trailing = strings.HasSuffix(s, "\n")
	t.lines = strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	return t
}

func (t text) join() string {
	if len(t.lines) == 0 {
		return ""
	}
	sep := "\n"
	if t.crlf {
		sep = "\r\n"
	}
	s := strings.Join(t.lines, sep)
	if t.trailing {
		s += sep
	}
	return s
}

// hunkApplier places hunks into source lines.
type hunkApplier func(src []string, hunks []Hunk) ([]string, error)

// applyHunks runs fn over original and restores line endings. Files created
// from nothing end with a newline unless the patch says otherwise.
func applyHunks(original string, hunks []Hunk, fn hunkApplier) (string, error) {
	if len(hunks) == 0 {
		return "", ErrEmptyPatch
	}
	src := splitText(original)
	out, err := fn(src.lines, hunks)
	if err != nil {
		return "", err
	}

	res := text{lines: out, trailing: src.trailing || len(src.lines) == 0, crlf: src.crlf}
	last := hunks[len(hunks)-1]
	switch {
	case last.NewNoNewline:
		res.trailing = false
	case last.OldNoNewline:
		res.trailing = true
	}
	return res.join(), nil
}

// expectedIndex is the 0-based line where a hunk's old lines should start.
func expectedIndex(h Hunk, pos int) int {
	if !h.Positioned {
		return pos
	}
	if h.OldCount == 0 {
		// "@@ -N,0" inserts after line N.
		return h.OldStart
	}
	return h.OldStart - 1
}

// applyStrict requires every hunk's context and removed lines to appear
// verbatim. Like git apply it searches outward from the stated position
// when line numbers are off.
func applyStrict(src []string, hunks []Hunk) ([]string, error) {
	var out []string
	pos, offset := 0, 0

	for i, h := range hunks {
		old := h.oldLines()
		base := expectedIndex(h, pos)
		expected := base
		if h.Positioned {
			expected += offset
		}

		k := findExact(src, old, expected, pos)
		if k < 0 {
			return nil, fmt.Errorf("%w: hunk %d", ErrHunkMismatch, i+1)
		}
		if h.Positioned {
			offset = k - base
		}

		out = append(out, src[pos:k]...)
		out = append(out, h.newLines()...)
		pos = k + len(old)
	}
	return append(out, src[pos:]...), nil
}

// findExact finds block in src at or after min, nearest to expected.
func findExact(src, block []string, expected, min int) int {
	if len(block) == 0 {
		return clamp(expected, min, len(src))
	}
	maxStart := len(src) - len(block)
	if maxStart < min {
		return -1
	}
	expected = clamp(expected, min, maxStart)

	for d := 0; ; d++ {
		lo, hi := expected-d, expected+d
		if lo < min && hi > maxStart {
			return -1
		}
		if lo >= min && equalAt(src, block, lo) {
			return lo
		}
		if hi != lo && hi <= maxStart && equalAt(src, block, hi) {
			return hi
		}
	}
}

func equalAt(src, block []string, at int) bool {
	for j, l := range block {
		if src[at+j] != l {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
