package nvim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sokinpui/chatapply/model"
)

func TestValidatePosition(t *testing.T) {
	lines := []string{"func main() {", "", "}"}
	tests := []struct {
		name       string
		line, char int
		ok         bool
	}{
		{"start", 1, 1, true},
		{"end of line", 1, 14, true},
		{"past end of line", 1, 15, false},
		{"empty line", 2, 1, true},
		{"line zero", 0, 1, false},
		{"past last line", 4, 1, false},
		{"char zero", 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePosition(lines, tt.line, tt.char)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidPosition))
		})
	}
}

func TestInsertText(t *testing.T) {
	out, err := InsertText("fmt.()\n", 1, 5, "Println")
	require.NoError(t, err)
	require.Equal(t, "fmt.Println()\n", out)

	out, err = InsertText("héllo\n", 1, 3, "X")
	require.NoError(t, err)
	require.Equal(t, "héXllo\n", out)

	_, err = InsertText("a\n", 5, 1, "x")
	require.True(t, errors.Is(err, ErrInvalidPosition))
}

func TestFileInserter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main() {\n\t\n}\n"), 0o644))

	err := FileInserter{}.Insert(path, model.CodeCompletion{Line: 4, Character: 2, Content: "run()"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "package main\n\nfunc main() {\n\trun()\n}\n", string(data))
}
