package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/sokinpui/chatapply/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
)

// Out is where messages are written. Tests and the TUI may redirect it.
var Out io.Writer = os.Stderr

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(Out, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(Out, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(Out, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(Out, format+"\n", a...)
}

// --- Summaries ---

// PrintApplySummary prints the created/modified/deleted/failed lists of an
// apply operation, with the revert hint when anything was recorded.
func PrintApplySummary(s model.Summary) {
	Header("\n--- Update Summary ---")

	if s.Message != "" {
		Info(s.Message)
	}
	if !s.HasChanges() && len(s.Failed) == 0 {
		Info("No files were updated.")
		return
	}

	printList(SuccessColor, "Created %d new file(s):", s.Created)
	printList(SuccessColor, "Modified %d file(s):", s.Modified)
	printList(SuccessColor, "Deleted %d file(s):", s.Deleted)
	printList(ErrorColor, "Failed to process %d file(s):", s.Failed)

	if s.UsedFallback {
		Warning("Some patches needed the fuzzy fallback. Run with --intelligent if the result looks off.")
	}
	if s.Recorded > 0 && !s.Reverted {
		Info("Run with --revert to restore the previous state.")
	}
}

func PrintRevertSummary(reverted, failed []string) {
	Header("\n--- Revert Summary ---")
	if len(reverted) == 0 && len(failed) == 0 {
		Info("Nothing to revert.")
		return
	}
	printList(SuccessColor, "Successfully reverted %d file(s):", reverted)
	printList(ErrorColor, "Failed to revert %d file(s):", failed)
}

func printList(c *color.Color, title string, files []string) {
	if len(files) == 0 {
		return
	}
	c.Fprintf(Out, title+"\n", len(files))
	for _, f := range files {
		fmt.Fprintf(Out, "  - %s\n", f)
	}
}
