package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the application configuration loaded from YAML and ENV.
type Config struct {
	StateDir          string                  `mapstructure:"state_dir"`
	Review            bool                    `mapstructure:"review"`
	Workspaces        []WorkspaceConfig       `mapstructure:"workspaces"`
	Patch             PatchConfig             `mapstructure:"patch"`
	IntelligentUpdate IntelligentUpdateConfig `mapstructure:"intelligent_update"`
	Logging           LoggingConfig           `mapstructure:"logging"`
	Metrics           MetricsConfig           `mapstructure:"metrics"`
}

// WorkspaceConfig names one workspace root.
type WorkspaceConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// PatchConfig controls patch application strategies.
type PatchConfig struct {
	Primary          string `mapstructure:"primary"` // builtin or patch
	Fallback         bool   `mapstructure:"fallback"`
	DriftWindow      int    `mapstructure:"drift_window"` // 0 searches the whole file
	IgnoreWhitespace bool   `mapstructure:"ignore_whitespace"`
}

// IntelligentUpdateConfig is the provider/model tuple used to regenerate files.
type IntelligentUpdateConfig struct {
	Provider        string        `mapstructure:"provider"` // openai or anthropic
	Endpoint        string        `mapstructure:"endpoint"` // empty uses the provider default
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	ReasoningEffort string        `mapstructure:"reasoning_effort"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus text exposition written after a run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// FileName is the per-workspace config file looked up by Load.
const FileName = ".chatapply.yaml"

// Load reads configuration from the provided path. When path is empty it
// uses the first file that exists among FileName in each of dirs (the
// current directory when dirs is empty) and
// $HOME/.config/chatapply/config.yaml. A missing default file is not an
// error. Environment variables override file values (prefix: CHATAPPLY_,
// dots replaced with underscores).
func Load(path string, dirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATAPPLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = findDefault(dirs)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func findDefault(dirs []string) string {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	var candidates []string
	for _, d := range dirs {
		candidates = append(candidates, filepath.Join(d, FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatapply", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}
// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", ".chatapply")
	v.SetDefault("review", false)

	v.SetDefault("patch.primary", "builtin")
	v.SetDefault("patch.fallback", true)
	v.SetDefault("patch.drift_window", 0)
	v.SetDefault("patch.ignore_whitespace", true)

	v.SetDefault("intelligent_update.provider", "openai")
	v.SetDefault("intelligent_update.endpoint", "")
	v.SetDefault("intelligent_update.api_key", "")
	v.SetDefault("intelligent_update.model", "gpt-4o-mini")
	v.SetDefault("intelligent_update.temperature", 0.0)
	v.SetDefault("intelligent_update.reasoning_effort", "")
	v.SetDefault("intelligent_update.max_tokens", 16384)
	v.SetDefault("intelligent_update.retry_delay", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.textfile", "")
}

// Validate normalises enumerated values to lower case and performs basic
// sanity checks.
func (c *Config) Validate() error {
	c.Patch.Primary = strings.ToLower(strings.TrimSpace(c.Patch.Primary))
	c.IntelligentUpdate.Provider = strings.ToLower(strings.TrimSpace(c.IntelligentUpdate.Provider))
	c.IntelligentUpdate.ReasoningEffort = strings.ToLower(strings.TrimSpace(c.IntelligentUpdate.ReasoningEffort))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	switch c.Patch.Primary {
	case "builtin", "patch":
	default:
		return fmt.Errorf("patch.primary must be one of builtin or patch, got %q", c.Patch.Primary)
	}
	if c.Patch.DriftWindow < 0 {
		return errors.New("patch.drift_window must be >= 0")
	}

	iu := c.IntelligentUpdate
	switch iu.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("intelligent_update.provider must be one of openai or anthropic, got %q", iu.Provider)
	}
	if iu.Temperature < 0 || iu.Temperature > 2 {
		return errors.New("intelligent_update.temperature must be within [0,2]")
	}
	if iu.MaxTokens < 0 {
		return errors.New("intelligent_update.max_tokens cannot be negative")
	}
	if iu.RetryDelay <= 0 {
		return errors.New("intelligent_update.retry_delay must be > 0")
	}
	switch iu.ReasoningEffort {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("intelligent_update.reasoning_effort must be one of low, medium, high")
	}

	seen := make(map[string]struct{}, len(c.Workspaces))
	for i, ws := range c.Workspaces {
		if strings.TrimSpace(ws.Path) == "" {
			return fmt.Errorf("workspaces[%d] must define path", i)
		}
		if ws.Name == "" {
			continue
		}
		if _, dup := seen[ws.Name]; dup {
			return fmt.Errorf("workspace name %q is defined twice", ws.Name)
		}
		seen[ws.Name] = struct{}{}
	}

	if strings.TrimSpace(c.StateDir) == "" {
		return errors.New("state_dir must be set")
	}

	return nil
}
