package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sokinpui/chatapply/internal/config"
	"github.com/sokinpui/chatapply/internal/fs"
	"github.com/sokinpui/chatapply/internal/llm"
	"github.com/sokinpui/chatapply/model"
)

func newWorkspace(t *testing.T) (*fs.Workspace, string) {
	t.Helper()
	dir := t.TempDir()
	ws, err := fs.NewWorkspace([]fs.Root{{Name: "app", Path: dir}})
	require.NoError(t, err)
	return ws, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFastReplace(t *testing.T) {
	ws, dir := newWorkspace(t)
	existing := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(existing, []byte("old\n"), 0o644))

	res := FastReplace(ws, []model.ClipboardFile{
		{FilePath: "a.go", Content: "new\n"},
		{FilePath: "pkg/deep/b.go", Content: "package deep\n"},
		{FilePath: "../escape.go", Content: "x"},
	}, nil)

	require.True(t, res.Success())
	require.Len(t, res.OriginalStates, 2)
	require.Equal(t, "old\n", *res.OriginalStates[0].Content)
	require.True(t, res.OriginalStates[1].IsNew)
	require.Nil(t, res.OriginalStates[1].Content)
	require.Equal(t, []string{existing}, res.Modified)
	require.Equal(t, []string{filepath.Join(dir, "pkg", "deep", "b.go")}, res.Created)

	require.Len(t, res.Failed, 1)
	require.True(t, errors.Is(res.Failed[0].Err, fs.ErrPathEscape))

	require.Equal(t, "new\n", readFile(t, existing))
	require.Equal(t, "package deep\n", readFile(t, filepath.Join(dir, "pkg", "deep", "b.go")))
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.go"))
	require.True(t, os.IsNotExist(err))
}

func TestCleanupResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "package a\n", "package a\n"},
		{"fenced", "```go\npackage a\n```\n", "package a\n"},
		{"think then fence", "<think>hmm\nok</think>\n\n```go\npackage a\n```", "package a\n"},
		{"cdata", "<![CDATA[\npackage a\n]]>", "package a\n"},
		{"nested wrappers", "```\n<![CDATA[\nx := 1\n]]>\n```", "x := 1\n"},
		{"xml doctype", "<!DOCTYPE note>\n<note/>\n", "<note/>\n"},
		{"html doctype kept", "<!DOCTYPE html>\n<html></html>\n", "<!DOCTYPE html>\n<html></html>\n"},
		{"indent kept", "    indented\n", "    indented\n"},
		{"crlf", "```\r\nline\r\n```\r\n", "line\n"},
		{"only fences", "```\n```", ""},
		{"inner fence kept", "text\n```go\ncode\n```\nmore\n", "text\n```go\ncode\n```\nmore\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanupResponse(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, CleanupResponse(got), "cleanup must be idempotent")
		})
	}
}

type reply struct {
	text string
	err  error
}

// scriptedStreamer replays replies in order; the last reply repeats.
type scriptedStreamer struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.Request
	block    bool
}

func (s *scriptedStreamer) Provider() string { return "fake" }

func (s *scriptedStreamer) StreamCompletion(ctx context.Context, req llm.Request, onChunk func(string)) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	r := s.replies[len(s.replies)-1]
	if n <= len(s.replies) {
		r = s.replies[n-1]
	}
	if r.err != nil {
		return "", r.err
	}
	for _, part := range strings.SplitAfter(r.text, "\n") {
		if part != "" {
			onChunk(part)
		}
	}
	return r.text, nil
}

func newUpdater(s llm.Streamer, sleeps *[]time.Duration) *IntelligentUpdater {
	u := NewIntelligentUpdater(s, config.IntelligentUpdateConfig{Model: "m", RetryDelay: 5 * time.Second}, nil, nil)
	u.Sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return ctx.Err()
	}
	return u
}

func TestIntelligentUpdateRegeneratesFile(t *testing.T) {
	ws, dir := newWorkspace(t)
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc a() {}\n"), 0o644))

	s := &scriptedStreamer{replies: []reply{{text: "```go\npackage main\n\nfunc a() {}\n\nfunc b() {}\n```"}}}
	var sleeps []time.Duration
	u := newUpdater(s, &sleeps)
	var progress []Progress
	u.Progress = func(p Progress) { progress = append(progress, p) }

	res, err := u.Update(context.Background(), UpdateParams{
		Workspace: ws,
		Files:     []model.ClipboardFile{{FilePath: "main.go", Content: "func b() {}\n// ... rest unchanged"}},
	})
	require.NoError(t, err)
	require.Len(t, res.OriginalStates, 1)
	require.Equal(t, "package main\n\nfunc a() {}\n", *res.OriginalStates[0].Content)
	require.Equal(t, []string{path}, res.Modified)
	require.Equal(t, "package main\n\nfunc a() {}\n\nfunc b() {}\n", readFile(t, path))
	require.Empty(t, sleeps)

	require.Len(t, s.requests, 1)
	user := s.requests[0].Messages[1].Content
	require.Contains(t, user, "<![CDATA[\npackage main")
	require.Contains(t, user, "func b() {}")
	require.Equal(t, "m", s.requests[0].Model)

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	require.True(t, last.Done)
	require.Greater(t, last.Tokens, 0)
}

func TestIntelligentUpdateRetriesTransientErrors(t *testing.T) {
	ws, dir := newWorkspace(t)

	s := &scriptedStreamer{replies: []reply{
		{err: &llm.StatusError{StatusCode: 503}},
		{err: errors.New("connection reset")},
		{text: "package b\n"},
	}}
	var sleeps []time.Duration
	u := newUpdater(s, &sleeps)

	res, err := u.Update(context.Background(), UpdateParams{
		Workspace: ws,
		Files:     []model.ClipboardFile{{FilePath: "b.go", Content: "package b"}},
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeps)
	require.Len(t, s.requests, 3)
	require.Equal(t, []string{filepath.Join(dir, "b.go")}, res.Created)
	require.True(t, res.OriginalStates[0].IsNew)
}

func TestIntelligentUpdateNonRetryableIsPerFileFailure(t *testing.T) {
	ws, _ := newWorkspace(t)

	s := &scriptedStreamer{replies: []reply{
		{err: &llm.StatusError{StatusCode: 401}},
		{text: "package c\n"},
	}}
	var sleeps []time.Duration
	u := newUpdater(s, &sleeps)

	res, err := u.Update(context.Background(), UpdateParams{
		Workspace: ws,
		Files: []model.ClipboardFile{
			{FilePath: "b.go", Content: "package b"},
			{FilePath: "c.go", Content: "package c"},
		},
	})
	require.NoError(t, err)
	require.Empty(t, sleeps)
	require.Len(t, res.Failed, 1)
	require.Len(t, res.OriginalStates, 1)
	require.Equal(t, filepath.Base(res.Created[0]), "c.go")
}

func TestIntelligentUpdateTruncatedOutputLeavesFile(t *testing.T) {
	ws, dir := newWorkspace(t)
	path := filepath.Join(dir, "a.go")
	original := "package a\n\nfunc A() {\n\tx := 1\n\ty := 2\n\t_ = x + y\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range []string{
			`{"choices":[{"delta":{"content":"package a\n\nfunc A() {\n\tx := 1\n"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"length"}]}`,
			`[DONE]`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer srv.Close()

	var sleeps []time.Duration
	u := newUpdater(llm.NewOpenAIClient(srv.URL, "k", nil), &sleeps)
	res, err := u.Update(context.Background(), UpdateParams{
		Workspace: ws,
		Files:     []model.ClipboardFile{{FilePath: "a.go", Content: "func A() {\n\ty := 2\n}"}},
	})
	require.NoError(t, err)
	require.Empty(t, sleeps)
	require.Empty(t, res.Modified)
	require.Empty(t, res.OriginalStates)
	require.Len(t, res.Failed, 1)
	require.ErrorIs(t, res.Failed[0].Err, llm.ErrTruncated)
	require.Equal(t, original, readFile(t, path))
}

func TestIntelligentUpdateCancelWritesNothing(t *testing.T) {
	ws, dir := newWorkspace(t)
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	s := &scriptedStreamer{block: true}
	u := NewIntelligentUpdater(s, config.IntelligentUpdateConfig{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := u.Update(ctx, UpdateParams{
		Workspace: ws,
		Files:     []model.ClipboardFile{{FilePath: "a.go", Content: "new"}},
	})
	require.True(t, errors.Is(err, ErrCancelled))
	require.Nil(t, res)
	require.Equal(t, "old\n", readFile(t, path))
}

func TestIntelligentUpdateCancelDuringRetryDelay(t *testing.T) {
	ws, _ := newWorkspace(t)

	s := &scriptedStreamer{replies: []reply{{err: &llm.StatusError{StatusCode: 500}}}}
	u := NewIntelligentUpdater(s, config.IntelligentUpdateConfig{RetryDelay: time.Hour}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := u.Update(ctx, UpdateParams{
		Workspace: ws,
		Files:     []model.ClipboardFile{{FilePath: "a.go", Content: "x"}},
	})
	require.True(t, errors.Is(err, ErrCancelled))
	require.Len(t, s.requests, 1)
}

func TestFilesFromFailedPatches(t *testing.T) {
	patches := []model.DiffPatch{{
		FilePath: "a.go",
		Content:  "--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-x\n+y\n--- a/b.go\n+++ b/b.go\n@@ -1 +1 @@\n-p\n+q\n",
	}, {
		FilePath: "a.go",
		Content:  "--- a/a.go\n+++ b/a.go\n@@ -5 +5 @@\n-m\n+n\n",
	}}

	files := FilesFromFailedPatches(patches)
	require.Len(t, files, 2)
	require.Equal(t, "a.go", files[0].FilePath)
	require.Contains(t, files[0].Content, "+y")
	require.Contains(t, files[0].Content, "+n")
	require.Equal(t, "b.go", files[1].FilePath)
	require.Contains(t, files[1].Content, "+q")
}
