package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/sokinpui/chatapply/internal/ui"
)

// Provider retrieves the raw chat response to apply.
type Provider struct {
	// File, when set, is read instead of stdin or the clipboard. "-" means
	// stdin.
	File  string
	Stdin *os.File
	// ReadClipboard defaults to clipboard.ReadAll.
	ReadClipboard func() (string, error)
}

func New(file string) *Provider {
	return &Provider{File: file, Stdin: os.Stdin, ReadClipboard: clipboard.ReadAll}
}

// GetContent reads the response from the file, from stdin when it is piped,
// or from the clipboard. An empty clipboard yields "" and no error.
func (p *Provider) GetContent() (string, error) {
	switch {
	case p.File == "-":
		return p.readStdin()
	case p.File != "":
		ui.Header("--- Reading from " + p.File + " ---")
		data, err := os.ReadFile(p.File)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", p.File, err)
		}
		return string(data), nil
	}

	if p.Stdin != nil {
		if stat, err := p.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
			return p.readStdin()
		}
	}

	ui.Header("--- Reading from clipboard ---")
	read := p.ReadClipboard
	if read == nil {
		read = clipboard.ReadAll
	}
	content, err := read()
	if err != nil {
		return "", fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		ui.Warning("Clipboard is empty. Nothing to process.")
		return "", nil
	}
	return content, nil
}

func (p *Provider) readStdin() (string, error) {
	ui.Header("--- Reading from stdin ---")
	in := p.Stdin
	if in == nil {
		in = os.Stdin
	}
	content, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return string(content), nil
}
