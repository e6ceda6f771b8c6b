package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"comfyforge/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Server contains HTTP API settings.
type Server struct {
	APIBind        string `toml:"api_bind"`
	APIToken       string `toml:"api_token"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

// Router contains key selection defaults.
type Router struct {
	DefaultStrategy string `toml:"default_strategy"`
	MinQuota        int64  `toml:"min_quota"`
}

// Monitor contains health monitor cadence settings.
type Monitor struct {
	Enabled             bool `toml:"enabled"`
	IntervalMinutes     int  `toml:"interval_minutes"`
	StaleAfterMinutes   int  `toml:"stale_after_minutes"`
	ProbeTimeoutSeconds int  `toml:"probe_timeout_seconds"`
}

// Runs contains asynchronous run result retention settings.
type Runs struct {
	Backend          string `toml:"backend"`
	RetentionMinutes int    `toml:"retention_minutes"`
	MaxEntries       int    `toml:"max_entries"`
	RedisAddr        string `toml:"redis_addr"`
	RedisPassword    string `toml:"redis_password"`
	RedisDB          int    `toml:"redis_db"`
	RedisPrefix      string `toml:"redis_prefix"`
	PersistOutputs   bool   `toml:"persist_outputs"`
}

// Provider overrides endpoint settings for one provider adapter.
type Provider struct {
	BaseURL        string `toml:"base_url"`
	ValidateURL    string `toml:"validate_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for comfyforge.
//
// Configuration sections by subsystem:
//   - Paths: data directory (SQLite databases, lock file) and log directory
//   - Server: API bind address, bearer token, metrics exposure
//   - Router: default key selection strategy and minimum quota
//   - Monitor: health sweep interval, staleness window, probe timeout
//   - Runs: async result retention backend (memory or redis)
//   - Providers: per-provider endpoint overrides keyed by provider name
//   - Logging: log format and level
type Config struct {
	Paths     Paths               `toml:"paths"`
	Server    Server              `toml:"server"`
	Router    Router              `toml:"router"`
	Monitor   Monitor             `toml:"monitor"`
	Runs      Runs                `toml:"runs"`
	Providers map[string]Provider `toml:"providers"`
	Logging   Logging             `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("comfyforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// KeysDBPath returns the SQLite path backing the key registry.
func (c *Config) KeysDBPath() string {
	return filepath.Join(c.Paths.DataDir, "keys.db")
}

// AssetsDBPath returns the SQLite path backing the asset store.
func (c *Config) AssetsDBPath() string {
	return filepath.Join(c.Paths.DataDir, "assets.db")
}

// LockPath returns the daemon single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "comfyforge.lock")
}

// MonitorInterval returns the sweep interval as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// MonitorStaleAfter returns the probe staleness window as a duration.
func (c *Config) MonitorStaleAfter() time.Duration {
	return time.Duration(c.Monitor.StaleAfterMinutes) * time.Minute
}

// ProbeTimeout returns the per-probe deadline.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Monitor.ProbeTimeoutSeconds) * time.Second
}

// RunRetention returns how long finished run results are kept.
func (c *Config) RunRetention() time.Duration {
	return time.Duration(c.Runs.RetentionMinutes) * time.Minute
}

// Provider returns the override settings for a provider, matching the name
// case-insensitively. The zero value is returned when no section exists.
func (c *Config) Provider(name string) Provider {
	if p, ok := c.Providers[name]; ok {
		return p
	}
	for key, p := range c.Providers {
		if strings.EqualFold(key, name) {
			return p
		}
	}
	return Provider{RetryAttempts: defaultProviderRetryAttempts}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML, with the API token redacted.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	if clone.Server.APIToken != "" {
		clone.Server.APIToken = "<redacted>"
	}
	if clone.Runs.RedisPassword != "" {
		clone.Runs.RedisPassword = "<redacted>"
	}
	return toml.Marshal(clone)
}
