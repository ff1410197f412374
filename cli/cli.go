package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sokinpui/chatapply/internal/config"
)

// Config holds all the command-line flag values.
type Config struct {
	Revert        bool
	Intelligent   bool
	Review        bool
	Yes           bool
	OutputDiffFix bool
	NoAnimation   bool
	Workspaces    []string
	Extensions    []string
	ConfigPath    string
	File          string
	LogLevel      string
}

// ParseFlags parses os.Args.
func ParseFlags() (*Config, error) {
	return Parse(os.Args[1:])
}

// Parse defines and parses command-line flags using pflag.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	flags := pflag.NewFlagSet("chatapply", pflag.ContinueOnError)

	flags.BoolVarP(&cfg.Intelligent, "intelligent", "i", false, "Revert the last apply and redo it through the model (use when the result looks off).")
	flags.BoolVar(&cfg.Review, "review", false, "Review every change as a diff before it is applied.")
	flags.BoolVarP(&cfg.Yes, "yes", "y", false, "Accept every change without review.")
	flags.BoolVarP(&cfg.OutputDiffFix, "output-diff-fix", "o", false, "Print the diffs with hunk headers recomputed against the files.")
	flags.BoolVar(&cfg.NoAnimation, "no-animation", false, "Disable loading spinner and progress updates.")
	flags.StringArrayVarP(&cfg.Workspaces, "workspace", "w", nil, "Workspace root as name=path or path. Repeat for multi-root workspaces.")
	flags.StringSliceVarP(&cfg.Extensions, "extension", "e", []string{}, "Filter by extension. Use 'diff' to process only diff blocks (e.g., 'py', 'js', 'diff').")
	flags.StringVarP(&cfg.ConfigPath, "config", "c", "", "Path to a YAML config file.")
	flags.StringVarP(&cfg.File, "file", "f", "", "Read the response from a file ('-' for stdin) instead of stdin or the clipboard.")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error).")

	flags.BoolVarP(&cfg.Revert, "revert", "r", false, "Revert the last applied changes.")

	flags.Usage = func() {
		fmt.Println("Usage: chatapply [flags]")
		fmt.Println("\nApply code blocks and diffs from a chat response (stdin, file or clipboard) to your files.")
		fmt.Println("\nExample: pbpaste | chatapply -e go")
		fmt.Println("\nFlags:")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Revert && cfg.Intelligent {
		return nil, fmt.Errorf("error: --revert and --intelligent are mutually exclusive")
	}
	if cfg.Review && cfg.Yes {
		return nil, fmt.Errorf("error: --review and --yes are mutually exclusive")
	}

	for i, ext := range cfg.Extensions {
		if len(ext) > 0 && ext[0] != '.' {
			cfg.Extensions[i] = "." + ext
		}
	}

	if _, err := cfg.WorkspaceRoots(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WorkspaceRoots converts the --workspace values. A bare path is named after
// its last element.
func (c *Config) WorkspaceRoots() ([]config.WorkspaceConfig, error) {
	roots := make([]config.WorkspaceConfig, 0, len(c.Workspaces))
	for _, w := range c.Workspaces {
		name, path, ok := strings.Cut(w, "=")
		if !ok {
			path = w
			name = ""
		}
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("error: --workspace %q has no path", w)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("error: --workspace %q: %w", w, err)
		}
		if name == "" {
			name = filepath.Base(abs)
		}
		roots = append(roots, config.WorkspaceConfig{Name: name, Path: abs})
	}
	return roots, nil
}

// ConfigDirs returns the directories searched for the config file: the first
// workspace root given on the command line, or none to use the current
// directory.
func (c *Config) ConfigDirs() []string {
	roots, err := c.WorkspaceRoots()
	if err != nil || len(roots) == 0 {
		return nil
	}
	return []string{roots[0].Path}
}

// Apply overlays the flags on a loaded configuration.
func (c *Config) Apply(cfg *config.Config) error {
	roots, err := c.WorkspaceRoots()
	if err != nil {
		return err
	}
	if len(roots) > 0 {
		cfg.Workspaces = roots
	}
	if c.Review {
		cfg.Review = true
	}
	if c.Yes {
		cfg.Review = false
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	return nil
}
