package patcher

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	devNull         = "/dev/null"
	noNewlineMarker = `\ No newline at end of file`
)

var (
	hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
	gitHeaderRegex  = regexp.MustCompile(`^diff --git (?:"?a/)?(\S+?)"? (?:"?b/)?(\S+?)"?$`)
)

// Hunk is one @@ section. Lines keep their leading ' ', '-' or '+' marker.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	// Positioned is false for headers without line numbers ("@@ @@").
	Positioned bool
	Lines      []string
	// OldNoNewline and NewNoNewline record "\ No newline at end of file".
	OldNoNewline bool
	NewNoNewline bool
}

// FilePatch is the part of a multi-file patch that touches a single file.
type FilePatch struct {
	OldPath  string
	NewPath  string
	IsNew    bool
	IsDelete bool
	Hunks    []Hunk
}

// Path is the file the section writes to, or removes for deletions.
func (fp FilePatch) Path() string {
	if fp.IsDelete || fp.NewPath == "" {
		return fp.OldPath
	}
	return fp.NewPath
}

// oldLines returns context and removed lines without their markers.
func (h Hunk) oldLines() []string {
	var out []string
	for _, l := range h.Lines {
		if marker(l) != '+' {
			out = append(out, body(l))
		}
	}
	return out
}

// newLines returns context and added lines without their markers.
func (h Hunk) newLines() []string {
	var out []string
	for _, l := range h.Lines {
		if marker(l) != '-' {
			out = append(out, body(l))
		}
	}
	return out
}

func marker(line string) byte {
	if line == "" {
		return ' '
	}
	return line[0]
}

func body(line string) string {
	if line == "" {
		return ""
	}
	return line[1:]
}

// SplitPatch splits unified diff text into per-file sections. Sections
// without a "diff --git" header start at a "--- " line followed by "+++ ".
// Hunks that appear before any file header are kept in a pathless section.
func SplitPatch(patchText string) []FilePatch {
	lines := strings.Split(strings.ReplaceAll(patchText, "\r\n", "\n"), "\n")

	var (
		sections []FilePatch
		cur      *FilePatch
		hunk     *Hunk
	)

	flushHunk := func() {
		if cur != nil && hunk != nil {
			cur.Hunks = append(cur.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if cur != nil && (cur.Path() != "" || len(cur.Hunks) > 0) {
			sections = append(sections, *cur)
		}
		cur = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			cur = &FilePatch{}
			if m := gitHeaderRegex.FindStringSubmatch(line); m != nil {
				cur.OldPath, cur.NewPath = m[1], m[2]
			}
			continue

		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			oldPath := headerPath(line[4:])
			newPath := headerPath(lines[i+1][4:])
			i++
			// A "--- " header that follows hunks belongs to the next file.
			if cur == nil || len(cur.Hunks) > 0 || hunk != nil {
				flushFile()
				cur = &FilePatch{}
			}
			if oldPath == devNull {
				cur.IsNew = true
			} else {
				cur.OldPath = oldPath
			}
			if newPath == devNull {
				cur.IsDelete = true
			} else {
				cur.NewPath = newPath
			}
			continue

		case strings.HasPrefix(line, "@@"):
			flushHunk()
			if cur == nil {
				cur = &FilePatch{}
			}
			hunk = parseHunkHeader(line)
			continue
		}

		if hunk == nil {
			if cur != nil {
				switch {
				case strings.HasPrefix(line, "new file mode"):
					cur.IsNew = true
				case strings.HasPrefix(line, "deleted file mode"):
					cur.IsDelete = true
				case strings.HasPrefix(line, "rename to "):
					cur.NewPath = strings.TrimSpace(strings.TrimPrefix(line, "rename to "))
				case strings.HasPrefix(line, "rename from "):
					cur.OldPath = strings.TrimSpace(strings.TrimPrefix(line, "rename from "))
				}
			}
			continue
		}

		switch marker(line) {
		case ' ', '-', '+':
			hunk.Lines = append(hunk.Lines, line)
		case '\\':
			if n := len(hunk.Lines); n > 0 {
				if marker(hunk.Lines[n-1]) == '-' {
					hunk.OldNoNewline = true
				} else {
					hunk.NewNoNewline = true
					if marker(hunk.Lines[n-1]) == ' ' {
						hunk.OldNoNewline = true
					}
				}
			}
		default:
			// Prose after a hunk ends it.
			flushHunk()
		}
	}
	flushFile()

	for i := range sections {
		trimTrailingBlankContext(&sections[i])
	}
	return sections
}

// trimTrailingBlankContext drops empty lines that a fenced block left at the
// end of the last hunk when the header counts say they are not part of it.
func trimTrailingBlankContext(fp *FilePatch) {
	for hi := range fp.Hunks {
		h := &fp.Hunks[hi]
		for len(h.Lines) > 0 && h.Lines[len(h.Lines)-1] == "" {
			if h.Positioned && countOld(h.Lines) <= h.OldCount {
				break
			}
			h.Lines = h.Lines[:len(h.Lines)-1]
		}
	}
}

func countOld(lines []string) int {
	n := 0
	for _, l := range lines {
		if marker(l) != '+' {
			n++
		}
	}
	return n
}

func parseHunkHeader(line string) *Hunk {
	h := &Hunk{}
	m := hunkHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return h
	}
	h.Positioned = true
	h.OldStart, _ = strconv.Atoi(m[1])
	h.OldCount = 1
	if m[2] != "" {
		h.OldCount, _ = strconv.Atoi(m[2])
	}
	h.NewStart, _ = strconv.Atoi(m[3])
	h.NewCount = 1
	if m[4] != "" {
		h.NewCount, _ = strconv.Atoi(m[4])
	}
	return h
}

// headerPath strips the a/ b/ prefixes, quotes and timestamps from a
// "--- " or "+++ " header value.
func headerPath(raw string) string {
	p := raw
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	p = strings.Trim(p, `"`)
	if p == devNull {
		return p
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	return p
}

// ExtractFilePathsFromPatch returns the target path of every file section,
// in order of appearance and without duplicates.
func ExtractFilePathsFromPatch(patchText string) []string {
	var paths []string
	seen := make(map[string]struct{})
	for _, fp := range SplitPatch(patchText) {
		p := fp.Path()
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

// LooksLikeDiff reports whether text carries unified diff structure.
func LooksLikeDiff(text string) bool {
	sawOld := false
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			return true
		case hunkHeaderRegex.MatchString(line):
			return true
		case strings.HasPrefix(line, "--- "):
			sawOld = true
		case strings.HasPrefix(line, "+++ ") && sawOld:
			return true
		}
	}
	return false
}

// Render writes a section back out as unified diff text.
func (fp FilePatch) Render() string {
	var sb strings.Builder
	oldPath, newPath := "a/"+fp.OldPath, "b/"+fp.NewPath
	if fp.IsNew {
		oldPath = devNull
	}
	if fp.IsDelete {
		newPath = devNull
	}
	if fp.OldPath == "" && !fp.IsNew {
		oldPath = "a/" + fp.Path()
	}
	if fp.NewPath == "" && !fp.IsDelete {
		newPath = "b/" + fp.Path()
	}
	sb.WriteString("--- " + oldPath + "\n")
	sb.WriteString("+++ " + newPath + "\n")
	for _, h := range fp.Hunks {
		sb.WriteString(h.header())
		oldEnd, newEnd := h.lastLines()
		for i, l := range h.Lines {
			if l == "" {
				l = " "
			}
			sb.WriteString(l + "\n")
			if (h.OldNoNewline && i == oldEnd) || (h.NewNoNewline && i == newEnd) {
				sb.WriteString(noNewlineMarker + "\n")
			}
		}
	}
	return sb.String()
}

// lastLines returns the indexes of the last old-side and new-side lines of
// the hunk, or -1 when a side is empty. A no-newline marker qualifies the
// last line of its side.
func (h Hunk) lastLines() (oldEnd, newEnd int) {
	oldEnd, newEnd = -1, -1
	for i, l := range h.Lines {
		switch marker(l) {
		case '-':
			oldEnd = i
		case '+':
			newEnd = i
		default:
			oldEnd, newEnd = i, i
		}
	}
	return oldEnd, newEnd
}

func (h Hunk) header() string {
	oldCount, newCount := 0, 0
	for _, l := range h.Lines {
		switch marker(l) {
		case '-':
			oldCount++
		case '+':
			newCount++
		default:
			oldCount++
			newCount++
		}
	}
	oldStart, newStart := h.OldStart, h.NewStart
	if !h.Positioned {
		oldStart, newStart = 1, 1
	}
	if oldCount == 0 && oldStart > 0 && !h.Positioned {
		oldStart = 0
	}
	return "@@ -" + strconv.Itoa(oldStart) + "," + strconv.Itoa(oldCount) +
		" +" + strconv.Itoa(newStart) + "," + strconv.Itoa(newCount) + " @@\n"
}
