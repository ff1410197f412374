package patcher

import (
	"fmt"
	"strings"
)

// fuzzy relocates hunks whose line numbers or whitespace are off. Blank
// lines are ignored while matching, and with ignoreWhitespace every run of
// whitespace compares equal.
type fuzzy struct {
	// driftWindow bounds how far a hunk may move from its stated
	// position. Zero means unlimited.
	driftWindow      int
	ignoreWhitespace bool
}

// getTargetBlock is the search pattern of a hunk: its non-blank context and
// removed lines, which must already exist in the source.
func getTargetBlock(h Hunk) []string {
	var block []string
	for _, line := range h.Lines {
		if marker(line) == '+' {
			continue
		}
		if content := body(line); strings.TrimSpace(content) != "" {
			block = append(block, content)
		}
	}
	return block
}

func (f fuzzy) normalize(line string) string {
	if f.ignoreWhitespace {
		return strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimRight(line, " \t\r")
}

// matchBlock finds block in source at or after min, skipping blank source
// lines. It returns the source index of every matched block line, choosing
// the candidate nearest to expected, or nil.
func (f fuzzy) matchBlock(source, block []string, expected, min int, bounded bool) []int {
	if len(block) == 0 {
		return nil
	}

	normalizedBlock := make([]string, len(block))
	for i, line := range block {
		normalizedBlock[i] = f.normalize(line)
	}

	var filtered []string
	var originalIndex []int
	for i := min; i < len(source); i++ {
		if n := f.normalize(source[i]); strings.TrimSpace(n) != "" {
			filtered = append(filtered, n)
			originalIndex = append(originalIndex, i)
		}
	}

	best, bestDist := -1, -1
	for i := 0; i <= len(filtered)-len(normalizedBlock); i++ {
		match := true
		for j := range normalizedBlock {
			if filtered[i+j] != normalizedBlock[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		dist := originalIndex[i] - expected
		if dist < 0 {
			dist = -dist
		}
		if bounded && f.driftWindow > 0 && dist > f.driftWindow {
			continue
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return nil
	}
	return originalIndex[best : best+len(normalizedBlock)]
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// apply walks each hunk and its matched source region in tandem. Context
// lines keep the source's text, removed lines are dropped, and added lines
// come from the hunk.
func (f fuzzy) apply(src []string, hunks []Hunk) ([]string, error) {
	var out []string
	pos, offset := 0, 0

	for i, h := range hunks {
		base := expectedIndex(h, pos)
		expected := base
		if h.Positioned {
			expected += offset
		}

		target := getTargetBlock(h)
		if len(target) == 0 {
			// Nothing to anchor on: insert the added lines where stated.
			k := clamp(expected, pos, len(src))
			out = append(out, src[pos:k]...)
			for _, l := range h.Lines {
				if marker(l) == '+' {
					out = append(out, body(l))
				}
			}
			pos = k
			continue
		}

		matched := f.matchBlock(src, target, expected, pos, h.Positioned)
		if matched == nil {
			return nil, fmt.Errorf("%w: could not locate hunk %d", ErrHunkMismatch, i+1)
		}
		start, end := matched[0], matched[len(matched)-1]+1
		if h.Positioned {
			offset = start - base
		}

		out = append(out, src[pos:start]...)
		si := start
		for _, l := range h.Lines {
			m := marker(l)
			switch {
			case m == '+':
				out = append(out, body(l))
			case isBlank(body(l)):
				if si > start && si < end && isBlank(src[si]) {
					if m == ' ' {
						out = append(out, src[si])
					}
					si++
				}
			default:
				for si < end && isBlank(src[si]) {
					out = append(out, src[si])
					si++
				}
				if m == ' ' {
					out = append(out, src[si])
				}
				si++
			}
		}
		pos = end
	}
	return append(out, src[pos:]...), nil
}

// correctHunks rewrites hunk headers so the line numbers match where each
// hunk's target block actually sits in source.
func (f fuzzy) correctHunks(source []string, fp FilePatch) (FilePatch, error) {
	corrected := fp
	corrected.Hunks = make([]Hunk, 0, len(fp.Hunks))

	lineDiffOffset, pos := 0, 0
	for i, h := range fp.Hunks {
		target := getTargetBlock(h)
		oldStart := 0
		if len(target) > 0 {
			matched := f.matchBlock(source, target, expectedIndex(h, pos), pos, false)
			if matched == nil {
				return FilePatch{}, fmt.Errorf("could not find matching block for hunk %d", i+1)
			}
			oldStart = matched[0] + 1
			pos = matched[len(matched)-1] + 1
		}

		addCount, removeCount := 0, 0
		for _, line := range h.Lines {
			switch marker(line) {
			case '+':
				addCount++
			case '-':
				removeCount++
			}
		}
		contextCount := len(h.Lines) - addCount - removeCount

		h.OldCount = contextCount + removeCount
		h.NewCount = contextCount + addCount
		h.OldStart = oldStart
		h.NewStart = oldStart + lineDiffOffset
		if h.NewCount > 0 && h.NewStart == 0 {
			h.NewStart = 1
		}
		h.Positioned = true
		corrected.Hunks = append(corrected.Hunks, h)

		lineDiffOffset += h.NewCount - h.OldCount
	}
	return corrected, nil
}
