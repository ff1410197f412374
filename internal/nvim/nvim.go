package nvim

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neovim/go-client/nvim"
	"go.uber.org/zap"

	"github.com/sokinpui/chatapply/internal/logging"
	"github.com/sokinpui/chatapply/model"
)

// ErrInvalidPosition is returned for a completion outside the document.
var ErrInvalidPosition = errors.New("invalid completion position")

const formatLua = `pcall(vim.lsp.buf.format, { async = false })`

// Inserter places a code completion into a document and saves it.
type Inserter interface {
	Insert(abs string, c model.CodeCompletion) error
}

// ValidatePosition checks a 1-based line and character against the document
// lines. The character may be one past the last character of the line.
func ValidatePosition(lines []string, line, char int) error {
	if line < 1 || line > len(lines) {
		return fmt.Errorf("%w: line %d outside 1..%d", ErrInvalidPosition, line, len(lines))
	}
	width := utf8.RuneCountInString(lines[line-1])
	if char < 1 || char > width+1 {
		return fmt.Errorf("%w: character %d outside 1..%d on line %d", ErrInvalidPosition, char, width+1, line)
	}
	return nil
}

// byteColumn converts a 1-based character position to a 0-based byte offset.
func byteColumn(s string, char int) int {
	col := 0
	for i := 1; i < char && col < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[col:])
		col += size
	}
	return col
}

// InsertText inserts text into content at a 1-based line and character.
func InsertText(content string, line, char int, text string) (string, error) {
	lines := strings.Split(content, "\n")
	if err := ValidatePosition(lines, line, char); err != nil {
		return "", err
	}
	target := lines[line-1]
	col := byteColumn(target, char)
	inserted := target[:col] + text + target[col:]
	lines[line-1] = inserted
	return strings.Join(lines, "\n"), nil
}

// FileInserter writes completions straight to disk. It is used when no
// Neovim instance can be reached.
type FileInserter struct{}

func (FileInserter) Insert(abs string, c model.CodeCompletion) error {
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	out, err := InsertText(string(data), c.Line, c.Character, c.Content)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(out), info.Mode().Perm())
}

// Manager handles the connection to a Neovim instance.
type Manager struct {
	nvim          *nvim.Nvim
	isSelfStarted bool
	cmd           *exec.Cmd
	socketPath    string
	log           *zap.Logger
}

// New connects to the instance at $NVIM_LISTEN_ADDRESS (or $NVIM), or starts
// a temporary headless one.
func New(log *zap.Logger) (*Manager, error) {
	log = logging.OrNop(log)
	for _, env := range []string{"NVIM_LISTEN_ADDRESS", "NVIM"} {
		if addr := os.Getenv(env); addr != "" {
			v, err := nvim.Dial(addr)
			if err == nil {
				log.Debug("connected to running nvim", zap.String("addr", addr))
				return &Manager{nvim: v, log: log}, nil
			}
			log.Debug("could not dial nvim", zap.String("addr", addr), zap.Error(err))
		}
	}

	tmpDir, err := os.MkdirTemp("", "chatapply-nvim-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for nvim: %w", err)
	}
	socketPath := filepath.Join(tmpDir, "nvim.sock")

	cmd := exec.Command("nvim", "--headless", "--clean", "--listen", socketPath)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to start headless nvim: %w. Is 'nvim' in your PATH?", err)
	}

	// Wait for the socket file to appear.
	for i := 0; i < 20; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	v, err := nvim.Dial(socketPath)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to connect to headless nvim: %w", err)
	}

	if err := v.Command("set noswapfile"); err != nil {
		log.Debug("could not disable swapfile", zap.Error(err))
	}

	return &Manager{
		nvim:          v,
		isSelfStarted: true,
		cmd:           cmd,
		socketPath:    socketPath,
		log:           log,
	}, nil
}

// Close disconnects from Neovim and cleans up if it was self-started.
func (m *Manager) Close() {
	if m.nvim != nil {
		m.nvim.Close()
	}
	if m.isSelfStarted && m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err == nil {
			m.cmd.Wait()
			os.RemoveAll(filepath.Dir(m.socketPath))
		}
	}
}

// Insert opens abs in a buffer, validates the position against the live
// buffer lines, inserts the completion, formats with the attached language
// server when there is one and writes the buffer.
func (m *Manager) Insert(abs string, c model.CodeCompletion) error {
	if err := m.nvim.Command("edit " + escapePath(abs)); err != nil {
		return fmt.Errorf("open %s: %w", abs, err)
	}
	buf, err := m.nvim.CurrentBuffer()
	if err != nil {
		return err
	}
	raw, err := m.nvim.BufferLines(buf, 0, -1, true)
	if err != nil {
		return err
	}
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = string(l)
	}
	if err := ValidatePosition(lines, c.Line, c.Character); err != nil {
		return err
	}

	row := c.Line - 1
	col := byteColumn(lines[row], c.Character)
	replacement := make([][]byte, 0)
	for _, l := range strings.Split(c.Content, "\n") {
		replacement = append(replacement, []byte(l))
	}
	if err := m.nvim.SetBufferText(buf, row, col, row, col, replacement); err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}

	if err := m.nvim.ExecLua(formatLua, nil); err != nil {
		m.log.Debug("format skipped", zap.String("path", abs), zap.Error(err))
	}
	if err := m.nvim.Command("write"); err != nil {
		return fmt.Errorf("write %s: %w", abs, err)
	}
	return nil
}

func escapePath(p string) string {
	return strings.NewReplacer(" ", `\ `, "%", `\%`, "#", `\#`).Replace(p)
}
