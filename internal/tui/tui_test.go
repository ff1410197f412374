package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/chatapply/cli"
	"github.com/sokinpui/chatapply/internal/handlers"
	"github.com/sokinpui/chatapply/internal/review"
	"github.com/sokinpui/chatapply/model"
)

func newTestModel() *Model {
	return New(nil, &cli.Config{})
}

func sendReview(m *Model, items []model.ChangeItem) chan review.Decision {
	reply := make(chan review.Decision, 1)
	m.Update(reviewMsg{
		prompt: review.Prompt{
			Index:    0,
			Total:    len(items),
			Item:     items[0],
			Diff:     "--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-a\n+b\n",
			Items:    items,
			Statuses: make([]review.Status, len(items)),
		},
		reply: reply,
	})
	return reply
}

func TestReviewKeys(t *testing.T) {
	items := []model.ChangeItem{{FilePath: "a.go"}, {FilePath: "b.go"}}
	tests := []struct {
		key  tea.KeyMsg
		want review.Decision
	}{
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")}, review.Decision{Action: review.ActionAccept}},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}, review.Decision{Action: review.ActionReject}},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")}, review.Decision{Action: review.ActionAcceptAll}},
		{tea.KeyMsg{Type: tea.KeyEsc}, review.Decision{Action: review.ActionCancel}},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")}, review.Decision{Action: review.ActionJump, Target: review.FileRef{FilePath: "b.go"}}},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			m := newTestModel()
			reply := sendReview(m, items)
			require.Equal(t, stateReviewing, m.state)
			require.Contains(t, m.View(), "Review 1/2: a.go")

			m.Update(tt.key)
			require.Equal(t, tt.want, <-reply)
			require.Equal(t, stateProcessing, m.state)
			require.Nil(t, m.review)
		})
	}
}

func TestJumpOutOfRangeIsIgnored(t *testing.T) {
	m := newTestModel()
	reply := sendReview(m, []model.ChangeItem{{FilePath: "a.go"}})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("5")})
	require.Equal(t, stateReviewing, m.state)
	require.Empty(t, reply)
}

func TestProgressView(t *testing.T) {
	m := newTestModel()
	m.Update(progressMsg(handlers.Progress{FilePath: "a.go", Index: 0, Total: 2, Tokens: 40, TokensPerSecond: 12.5}))
	require.Contains(t, m.View(), "Regenerating a.go (1/2) 40 tokens, 12.5 tok/s")
}

func TestSummaryView(t *testing.T) {
	m := newTestModel()
	m.Update(summaryMsg{Summary: model.Summary{
		Created:  []string{"new.go"},
		Failed:   []string{"bad.go"},
		Recorded: 1,
	}})
	view := m.View()
	require.Contains(t, view, "new.go")
	require.Contains(t, view, "bad.go")
	require.Contains(t, view, "--revert")
}

func TestColorizeDiffKeepsLines(t *testing.T) {
	out := colorizeDiff("@@ -1 +1 @@\n-a\n+b\n")
	require.Contains(t, out, "-a")
	require.Contains(t, out, "+b")
	require.Contains(t, colorizeDiff(""), "no changes")
}
