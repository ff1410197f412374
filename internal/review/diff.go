package review

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Stats counts changed lines between two versions of a file.
type Stats struct {
	Added   int
	Removed int
}

// UnifiedDiff renders original against proposed for display. A new file
// diffs against /dev/null and a deleted file against it.
func UnifiedDiff(path, original, proposed string, isNew, isDeleted bool) (string, error) {
	from, to := "a/"+path, "b/"+path
	if isNew {
		from = "/dev/null"
	}
	if isDeleted {
		to = "/dev/null"
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(proposed),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	})
}

// LineStats returns the number of added and removed lines.
func LineStats(original, proposed string) Stats {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(original, proposed)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var st Stats
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			st.Added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			st.Removed += countLines(d.Text)
		}
	}
	return st
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
