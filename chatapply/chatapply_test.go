package chatapply_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/chatapply/chatapply"
	"github.com/sokinpui/chatapply/cli"
	"github.com/sokinpui/chatapply/internal/config"
	"github.com/sokinpui/chatapply/internal/llm"
	"github.com/sokinpui/chatapply/internal/metrics"
	"github.com/sokinpui/chatapply/internal/nvim"
	"github.com/sokinpui/chatapply/internal/parser"
	"github.com/sokinpui/chatapply/internal/review"
	"github.com/sokinpui/chatapply/internal/source"
	"github.com/sokinpui/chatapply/internal/state"
	"github.com/sokinpui/chatapply/internal/ui"
)

func init() {
	ui.Out = io.Discard
}

// fakeStreamer answers every request with the same text.
type fakeStreamer struct {
	mu       sync.Mutex
	reply    string
	requests []llm.Request
}

func (f *fakeStreamer) Provider() string { return "fake" }

func (f *fakeStreamer) StreamCompletion(_ context.Context, req llm.Request, onChunk func(string)) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	onChunk(f.reply)
	return f.reply, nil
}

type scripted []review.Decision

func (s *scripted) Decide(context.Context, review.Prompt) (review.Decision, error) {
	if len(*s) == 0 {
		return review.Decision{}, errors.New("script exhausted")
	}
	d := (*s)[0]
	*s = (*s)[1:]
	return d, nil
}

type fixture struct {
	dir      string
	cfg      *config.Config
	streamer *fakeStreamer
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Workspaces = []config.WorkspaceConfig{{Name: "app", Path: dir}}
	cfg.IntelligentUpdate.RetryDelay = time.Millisecond
	return &fixture{dir: dir, cfg: cfg, streamer: &fakeStreamer{}, metrics: metrics.New()}
}

func (f *fixture) app(t *testing.T, opts ...chatapply.Option) *chatapply.App {
	t.Helper()
	opts = append([]chatapply.Option{
		chatapply.WithStreamer(f.streamer),
		chatapply.WithMetrics(f.metrics),
		chatapply.WithInserter(nvim.FileInserter{}),
	}, opts...)
	a, err := chatapply.New(f.cfg, opts...)
	require.NoError(t, err)
	return a
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, rel))
	require.NoError(t, err)
	return string(data)
}

const original = "package a\n\nfunc A() {}\n"

func TestApplyPatchAndRevert(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", original)
	a := f.app(t)

	raw := "Rename the function:\n\n```diff\n--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,3 @@\n package a\n \n-func A() {}\n+func B() {}\n```\n"
	summary, err := a.ApplyResponse(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodPatch, summary.Method)
	require.Equal(t, []string{"a.go"}, summary.Modified)
	require.Equal(t, 1, summary.Recorded)
	require.Equal(t, "package a\n\nfunc B() {}\n", f.read(t, "a.go"))

	states, source := a.Ledger().LastApplied()
	require.Len(t, states, 1)
	require.Equal(t, raw, source)

	reverted, err := a.Revert()
	require.NoError(t, err)
	require.True(t, reverted.Reverted)
	require.Equal(t, original, f.read(t, "a.go"))

	states, _ = a.Ledger().LastApplied()
	require.Empty(t, states)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Patches.WithLabelValues("strict")))
}

func TestFailedPatchFallsBackToIntelligentUpdate(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", original)
	f.streamer.reply = "```go\npackage a\n\nfunc B() {}\n```"
	a := f.app(t)

	raw := "```diff\n--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,3 @@\n package a\n \n-func Missing() {}\n+func B() {}\n```\n"
	summary, err := a.ApplyResponse(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "patch+intelligent-update", summary.Method)
	require.Equal(t, []string{"a.go"}, summary.Modified)
	require.Equal(t, "package a\n\nfunc B() {}\n", f.read(t, "a.go"))

	require.Len(t, f.streamer.requests, 1)
	require.Contains(t, f.streamer.requests[0].Messages[1].Content, "-func Missing() {}")

	states, _ := a.Ledger().LastApplied()
	require.Len(t, states, 1)
	require.Equal(t, original, *states[0].Content)
}

const twoFilePatch = "```diff\n" +
	"--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,3 @@\n package a\n \n-func A() {}\n+func A2() {}\n" +
	"--- a/b.go\n+++ b/b.go\n@@ -1,3 +1,3 @@\n package a\n \n-func B() {}\n+func B2() {}\n" +
	"```\n"

func TestReviewAppliesOnlyAcceptedFiles(t *testing.T) {
	f := newFixture(t)
	f.cfg.Review = true
	f.write(t, "a.go", original)
	f.write(t, "b.go", "package a\n\nfunc B() {}\n")

	decisions := scripted{{Action: review.ActionAccept}, {Action: review.ActionReject}}
	a := f.app(t, chatapply.WithDecisionSource(&decisions))

	summary, err := a.ApplyResponse(context.Background(), twoFilePatch)
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, summary.Modified)
	require.Equal(t, "package a\n\nfunc A2() {}\n", f.read(t, "a.go"))
	require.Equal(t, "package a\n\nfunc B() {}\n", f.read(t, "b.go"))
	require.Empty(t, f.streamer.requests)
}

func TestReviewCancelAppliesNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Review = true
	f.write(t, "a.go", original)
	f.write(t, "b.go", "package a\n\nfunc B() {}\n")

	decisions := scripted{{Action: review.ActionAccept}, {Action: review.ActionCancel}}
	a := f.app(t, chatapply.WithDecisionSource(&decisions))

	_, err := a.ApplyResponse(context.Background(), twoFilePatch)
	require.True(t, errors.Is(err, review.ErrReviewCancelled))
	require.Equal(t, original, f.read(t, "a.go"))
	states, _ := a.Ledger().LastApplied()
	require.Empty(t, states)
}

func TestNewFilesUseFastReplace(t *testing.T) {
	f := newFixture(t)
	a := f.app(t)

	raw := "Create `pkg/new.go`:\n\n```go\npackage pkg\n\n// ... existing code ...\n```\n"
	summary, err := a.ApplyResponse(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodFastReplace, summary.Method)
	require.Equal(t, []string{"pkg/new.go"}, summary.Created)
	require.Equal(t, "package pkg\n\n// ... existing code ...\n", f.read(t, "pkg/new.go"))
	require.Empty(t, f.streamer.requests)
}

func TestTruncatedFilesUseIntelligentUpdate(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", original)
	f.streamer.reply = "package a\n\nfunc A() {}\n\nfunc C() {}\n"
	a := f.app(t)

	raw := "`a.go`\n\n```go\nfunc C() {}\n// ... existing code ...\n```\n"
	summary, err := a.ApplyResponse(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodIntelligent, summary.Method)
	require.Equal(t, []string{"a.go"}, summary.Modified)
	require.Equal(t, f.streamer.reply, f.read(t, "a.go"))
}

func TestRetryIntelligentReplaysLastSource(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", original)
	a := f.app(t)

	raw := "`a.go`\n\n```go\npackage a\n\nfunc C() {}\n```\n"
	summary, err := a.ApplyResponse(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodFastReplace, summary.Method)
	require.Equal(t, "package a\n\nfunc C() {}\n", f.read(t, "a.go"))

	f.streamer.reply = "package a\n\nfunc A() {}\n\nfunc C() {}\n"
	summary, err = a.RetryIntelligent(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, summary.Modified)
	require.Equal(t, f.streamer.reply, f.read(t, "a.go"))

	// The model saw the pre-apply content, not the fast replace result.
	require.Contains(t, f.streamer.requests[0].Messages[1].Content, "func A() {}")

	states, source := a.Ledger().LastApplied()
	require.Len(t, states, 1)
	require.Equal(t, original, *states[0].Content)
	require.Equal(t, raw, source)
}

func TestRetryIntelligentNeedsRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.app(t).RetryIntelligent(context.Background())
	require.True(t, errors.Is(err, state.ErrNothingRecorded))
}

func TestCodeCompletionBypassesLedger(t *testing.T) {
	f := newFixture(t)
	f.write(t, "main.go", "package main\n\nfunc main() {\n\t\n}\n")
	a := f.app(t)

	summary, err := a.ApplyResponse(context.Background(), "```go\n// main.go:4:2\nrun()\n```\n")
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodCompletion, summary.Method)
	require.Equal(t, "package main\n\nfunc main() {\n\trun()\n}\n", f.read(t, "main.go"))

	states, _ := a.Ledger().LastApplied()
	require.Empty(t, states)
}

func TestEmptyResponse(t *testing.T) {
	f := newFixture(t)
	summary, err := f.app(t).ApplyResponse(context.Background(), "just prose, no code")
	require.True(t, errors.Is(err, parser.ErrNoValidBlocks))
	require.NotEmpty(t, summary.Message)
}

func TestExecuteSelectsOperation(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", original)
	resp := filepath.Join(f.dir, "response.md")
	require.NoError(t, os.WriteFile(resp, []byte("`a.go`\n```go\npackage a\n```\n"), 0o644))

	a := f.app(t, chatapply.WithSource(source.New(resp)))
	summary, err := a.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, summary.Modified)

	r := f.app(t, chatapply.WithFlags(&cli.Config{Revert: true}))
	summary, err = r.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodRevert, summary.Method)
	require.Equal(t, original, f.read(t, "a.go"))
}

type panicStreamer struct{}

func (panicStreamer) Provider() string { return "panic" }

func (panicStreamer) StreamCompletion(context.Context, llm.Request, func(string)) (string, error) {
	panic("boom")
}

func TestExecuteRecordsPartialChangesOnPanic(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", original)
	f.write(t, "b.go", "package a\n\nfunc C() {}\n")
	resp := filepath.Join(f.dir, "response.md")
	require.NoError(t, os.WriteFile(resp, []byte(
		"```diff\n--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,3 @@\n package a\n \n-func A() {}\n+func B() {}\n```\n\n"+
			"```diff\n--- a/b.go\n+++ b/b.go\n@@ -1,3 +1,3 @@\n package a\n \n-func Missing() {}\n+func D() {}\n```\n"), 0o644))

	a := f.app(t, chatapply.WithSource(source.New(resp)), chatapply.WithStreamer(panicStreamer{}))
	summary, err := a.Execute(context.Background())

	var detailed *chatapply.DetailedError
	require.ErrorAs(t, err, &detailed)
	require.Contains(t, err.Error(), "boom")
	require.NotEmpty(t, detailed.Stack)
	require.Equal(t, 1, summary.Recorded)
	require.Contains(t, summary.Message, "--revert")
	require.Equal(t, "package a\n\nfunc B() {}\n", f.read(t, "a.go"))

	states, _ := a.Ledger().LastApplied()
	require.Len(t, states, 1)
	require.Equal(t, filepath.Join(f.dir, "a.go"), states[0].FilePath)

	_, err = a.Revert()
	require.NoError(t, err)
	require.Equal(t, original, f.read(t, "a.go"))
	require.Equal(t, "package a\n\nfunc C() {}\n", f.read(t, "b.go"))
}

func TestTwoPatchesOnOneFile(t *testing.T) {
	f := newFixture(t)
	before := "package a\n\nfunc A() {}\n\nfunc C() {}\n"
	f.write(t, "a.go", before)
	a := f.app(t)

	raw := "```diff\n--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,3 @@\n package a\n \n-func A() {}\n+func B() {}\n```\n\n" +
		"```diff\n--- a/a.go\n+++ b/a.go\n@@ -4,2 +4,2 @@\n \n-func C() {}\n+func D() {}\n```\n"
	summary, err := a.ApplyResponse(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, chatapply.MethodPatch, summary.Method)
	require.Equal(t, []string{"a.go"}, summary.Modified)
	require.Equal(t, 1, summary.Recorded)
	require.Equal(t, "package a\n\nfunc B() {}\n\nfunc D() {}\n", f.read(t, "a.go"))

	states, _ := a.Ledger().LastApplied()
	require.Len(t, states, 1)
	require.Equal(t, before, *states[0].Content)

	_, err = a.Revert()
	require.NoError(t, err)
	require.Equal(t, before, f.read(t, "a.go"))
}

func TestFixAndPrintDiffs(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "// header\n"+original)
	resp := filepath.Join(f.dir, "response.md")
	require.NoError(t, os.WriteFile(resp, []byte("```diff\n--- a/a.go\n+++ b/a.go\n@@ -1,3 +1,3 @@\n package a\n \n-func A() {}\n+func B() {}\n```\n"), 0o644))

	var out strings.Builder
	a := f.app(t, chatapply.WithSource(source.New(resp)), chatapply.WithStdout(&out))
	_, err := a.FixAndPrintDiffs()
	require.NoError(t, err)
	require.Contains(t, out.String(), "@@ -2,3 +2,3 @@")
	require.Equal(t, "// header\n"+original, f.read(t, "a.go"))
}

func TestLibraryApply(t *testing.T) {
	dir := t.TempDir()
	res, err := chatapply.Apply(context.Background(), "`web/src/index.js`\n```js\nconsole.log(\"hello world\");\n```", chatapply.Config{
		Workspaces: map[string]string{"site": dir},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"web/src/index.js"}, res["Created"])

	data, err := os.ReadFile(filepath.Join(dir, "web", "src", "index.js"))
	require.NoError(t, err)
	require.Equal(t, "console.log(\"hello world\");\n", string(data))
}
