package chatapply

import (
	"context"
	"fmt"
	"sort"

	"github.com/sokinpui/chatapply/internal/config"
)

// Config for using chatapply as a library.
type Config struct {
	// Filter by extension. Use 'diff' to process only diff blocks (e.g., 'py', 'js', 'diff').
	Extensions []string
	// Workspace roots by name, in name order. Empty uses the current directory.
	Workspaces map[string]string
	// ConfigPath loads a YAML config file. Empty uses the built-in defaults.
	ConfigPath string
}

// Apply parses the given content string and applies the changes to files
// without review. It returns the summary lists by name.
func Apply(ctx context.Context, content string, c Config) (map[string][]string, error) {
	cfg := config.Default()
	if c.ConfigPath != "" {
		loaded, err := config.Load(c.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	names := make([]string, 0, len(c.Workspaces))
	for name := range c.Workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg.Workspaces = append(cfg.Workspaces, config.WorkspaceConfig{Name: name, Path: c.Workspaces[name]})
	}
	cfg.Review = false

	exts := make([]string, len(c.Extensions))
	for i, ext := range c.Extensions {
		if len(ext) > 0 && ext[0] != '.' {
			ext = "." + ext
		}
		exts[i] = ext
	}

	app, err := New(cfg, WithExtensions(exts...))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chatapply: %w", err)
	}

	summary, err := app.ApplyResponse(ctx, content)
	if err != nil {
		return nil, err
	}

	return map[string][]string{
		"Created":  summary.Created,
		"Modified": summary.Modified,
		"Deleted":  summary.Deleted,
		"Failed":   summary.Failed,
	}, nil
}
