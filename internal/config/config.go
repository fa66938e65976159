// Package config loads taskdav configuration from defaults, an
// optional YAML file, and TASKDAV_* environment overrides, in that
// order.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Vault  VaultConfig  `yaml:"vault" mapstructure:"vault"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Filter FilterConfig `yaml:"filter" mapstructure:"filter"`
	State  StateConfig  `yaml:"state" mapstructure:"state"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// VaultConfig locates the markdown vault.
type VaultConfig struct {
	// Dir is the vault root. Required.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Ignore lists glob patterns skipped by the scanner, matched
	// against vault-relative paths and base names.
	Ignore []string `yaml:"ignore,omitempty" mapstructure:"ignore"`
}

// ServerConfig locates and authenticates against the CalDAV server.
type ServerConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Username string `yaml:"username" mapstructure:"username"`

	// Password and PasswordCmd are mutually exclusive; the command's
	// trimmed stdout becomes the password.
	Password    string `yaml:"password,omitempty" mapstructure:"password"`
	PasswordCmd string `yaml:"password_cmd,omitempty" mapstructure:"password_cmd"`

	// Calendar is the display name of the task collection. Empty picks
	// the first VTODO-capable collection on the server.
	Calendar string `yaml:"calendar" mapstructure:"calendar"`

	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SyncConfig drives the daemon's cycle scheduling.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Watch    bool          `yaml:"watch" mapstructure:"watch"`
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// RetryConfig shapes the per-task retry budget.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	Multiplier     float64       `yaml:"multiplier" mapstructure:"multiplier"`
	MaxDelay       time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" mapstructure:"rate_limit_delay"`
}

// FilterConfig selects which scanned tasks sync.
type FilterConfig struct {
	Folders         []string      `yaml:"folders,omitempty" mapstructure:"folders"`
	ExcludeFolders  []string      `yaml:"exclude_folders,omitempty" mapstructure:"exclude_folders"`
	RequireTags     []string      `yaml:"require_tags,omitempty" mapstructure:"require_tags"`
	ExcludeTags     []string      `yaml:"exclude_tags,omitempty" mapstructure:"exclude_tags"`
	MaxCompletedAge time.Duration `yaml:"max_completed_age" mapstructure:"max_completed_age"`
}

// StateConfig locates mutable state (mapping store, lock file).
type StateConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig shapes the daemon's rotating log file. File empty means
// stderr only.
type LogConfig struct {
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Load reads configuration from path, or from DefaultPath() when path
// is empty. A missing default file is fine; a missing explicit file is
// an error. Environment variables under the TASKDAV_ prefix override
// file values (TASKDAV_SERVER_URL, TASKDAV_SYNC_WATCH, ...).
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKDAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bare form works too, for people who keep secrets out of
	// their shell history the short way.
	v.BindEnv("server.password", "TASKDAV_SERVER_PASSWORD", "TASKDAV_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.Vault.Dir = expandHome(cfg.Vault.Dir)
	cfg.State.Dir = expandHome(cfg.State.Dir)
	cfg.Log.File = expandHome(cfg.Log.File)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vault.dir", "")
	v.SetDefault("vault.ignore", []string{})
	v.SetDefault("server.url", "")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.password_cmd", "")
	v.SetDefault("server.calendar", "")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.watch", true)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.rate_limit_delay", 30*time.Second)
	v.SetDefault("filter.folders", []string{})
	v.SetDefault("filter.exclude_folders", []string{})
	v.SetDefault("filter.require_tags", []string{})
	v.SetDefault("filter.exclude_tags", []string{})
	v.SetDefault("filter.max_completed_age", time.Duration(0))
	v.SetDefault("state.dir", DefaultStateDir())
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Validate checks the loaded configuration and names the offending key
// in the error.
func (c *Config) Validate() error {
	if c.Vault.Dir == "" {
		return fmt.Errorf("vault.dir is required")
	}
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https, got %q", u.Scheme)
	}
	if c.Server.Password != "" && c.Server.PasswordCmd != "" {
		return fmt.Errorf("server.password and server.password_cmd are mutually exclusive")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive, got %s", c.Sync.Debounce)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive, got %s", c.Retry.InitialDelay)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	}
	if c.Retry.MaxDelay <= 0 {
		return fmt.Errorf("retry.max_delay must be positive, got %s", c.Retry.MaxDelay)
	}
	if c.Retry.RateLimitDelay <= 0 {
		return fmt.Errorf("retry.rate_limit_delay must be positive, got %s", c.Retry.RateLimitDelay)
	}
	if c.Filter.MaxCompletedAge < 0 {
		return fmt.Errorf("filter.max_completed_age must not be negative, got %s", c.Filter.MaxCompletedAge)
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	return nil
}

// ResolvePassword returns the CalDAV password: the configured value
// when set, otherwise the trimmed stdout of server.password_cmd, or ""
// when neither is configured.
func (c *Config) ResolvePassword(ctx context.Context) (string, error) {
	if c.Server.Password != "" {
		return c.Server.Password, nil
	}
	if c.Server.PasswordCmd == "" {
		return "", nil
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", c.Server.PasswordCmd).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("failed to run server.password_cmd: %w: %s",
				err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to run server.password_cmd: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DefaultDir is where the config file lives, honoring XDG_CONFIG_HOME.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskdav")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskdav"
	}
	return filepath.Join(home, ".config", "taskdav")
}

// DefaultPath is the config file consulted when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultStateDir is where mutable state (mapping store, lock file)
// lives, honoring XDG_STATE_HOME.
func DefaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskdav")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskdav"
	}
	return filepath.Join(home, ".local", "state", "taskdav")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Default returns the configuration an empty file would load to.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := new(Config)
	// Decoding pure defaults cannot fail; the types line up by
	// construction.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Save writes the configuration as YAML, atomically, creating parent
// directories. Written 0600 because the file may carry credentials.
func Save(path string, cfg *Config) error {
	node := new(yaml.Node)
	if err := node.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	humanizeDurations(node)
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp config %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp config to %s: %w", path, err)
	}
	return nil
}

// Duration-valued keys across the whole schema; no key name repeats
// with a different type.
var durationKeys = map[string]bool{
	"timeout":           true,
	"interval":          true,
	"debounce":          true,
	"initial_delay":     true,
	"max_delay":         true,
	"rate_limit_delay":  true,
	"max_completed_age": true,
}

// humanizeDurations rewrites duration values from the nanosecond
// integers yaml emits for time.Duration into their parseable human
// form ("45s", "5m0s").
func humanizeDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if durationKeys[key.Value] && value.Kind == yaml.ScalarNode {
				if ns, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
					value.Tag = "!!str"
					value.Value = time.Duration(ns).String()
				}
			}
		}
	}
	for _, child := range n.Content {
		humanizeDurations(child)
	}
}
