package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSingleRoot(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace([]Root{{Name: "app", Path: dir}})
	require.NoError(t, err)

	abs, err := ws.Resolve("", "src/a.ts")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "src", "a.ts"), abs)

	_, err = ws.Resolve("", "../outside.txt")
	require.True(t, errors.Is(err, ErrPathEscape))

	_, err = ws.Resolve("", "/etc/passwd")
	require.True(t, errors.Is(err, ErrPathEscape))

	abs, err = ws.Resolve("", filepath.Join(dir, "b.go"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "b.go"), abs)
}

func TestResolveMultiRoot(t *testing.T) {
	web := t.TempDir()
	api := t.TempDir()
	ws, err := NewWorkspace([]Root{{Name: "web", Path: web}, {Name: "api", Path: api}})
	require.NoError(t, err)

	t.Run("explicit workspace name", func(t *testing.T) {
		abs, err := ws.Resolve("api", "main.go")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(api, "main.go"), abs)
	})

	t.Run("prefixed path", func(t *testing.T) {
		abs, err := ws.Resolve("", "api/cmd/main.go")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(api, "cmd", "main.go"), abs)
	})

	t.Run("unknown name falls back to default root", func(t *testing.T) {
		abs, err := ws.Resolve("src", "index.js")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(web, "src", "index.js"), abs)
	})

	t.Run("relative rendering", func(t *testing.T) {
		require.Equal(t, "api/cmd/main.go", ws.Relative(filepath.Join(api, "cmd", "main.go")))
	})
}

func TestNewWorkspaceRejectsDuplicateNames(t *testing.T) {
	_, err := NewWorkspace([]Root{{Name: "x", Path: t.TempDir()}, {Name: "x", Path: t.TempDir()}})
	require.Error(t, err)
}

func TestWriteAndRemovePrunesEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	ws, err := NewWorkspace([]Root{{Path: dir}})
	require.NoError(t, err)

	path := filepath.Join(dir, "a", "b", "c.txt")
	require.NoError(t, ws.WriteFile(path, "hello"))
	require.True(t, ws.Exists(path))

	content, err := ws.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", content)

	require.NoError(t, ws.RemoveFile(path))
	_, err = os.Stat(filepath.Join(dir, "a"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir)
	require.NoError(t, err)
}
