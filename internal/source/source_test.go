package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sokinpui/chatapply/internal/ui"
)

func init() {
	ui.Out = io.Discard
}

func TestGetContentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.md")
	require.NoError(t, os.WriteFile(path, []byte("```go\nx\n```\n"), 0o644))

	got, err := New(path).GetContent()
	require.NoError(t, err)
	require.Equal(t, "```go\nx\n```\n", got)

	_, err = New(filepath.Join(t.TempDir(), "missing")).GetContent()
	require.Error(t, err)
}

func TestGetContentFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("piped")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	p := &Provider{Stdin: r, ReadClipboard: func() (string, error) {
		return "", errors.New("clipboard must not be read")
	}}
	got, err := p.GetContent()
	require.NoError(t, err)
	require.Equal(t, "piped", got)
}

func TestGetContentFromClipboard(t *testing.T) {
	p := &Provider{ReadClipboard: func() (string, error) { return "  \n", nil }}
	got, err := p.GetContent()
	require.NoError(t, err)
	require.Empty(t, got)

	p.ReadClipboard = func() (string, error) { return "", errors.New("no clipboard") }
	_, err = p.GetContent()
	require.Error(t, err)
}
