package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"comfyforge/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("COMFYFORGE_API_TOKEN", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "comfyforge")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Server.APIBind != "127.0.0.1:7850" {
		t.Fatalf("unexpected api bind: %q", cfg.Server.APIBind)
	}
	if cfg.Router.DefaultStrategy != "balanced" {
		t.Fatalf("unexpected default strategy: %q", cfg.Router.DefaultStrategy)
	}
	if cfg.Router.MinQuota != 1 {
		t.Fatalf("unexpected min quota: %d", cfg.Router.MinQuota)
	}
	if cfg.MonitorInterval() != time.Hour {
		t.Fatalf("unexpected monitor interval: %s", cfg.MonitorInterval())
	}
	if cfg.MonitorStaleAfter() != time.Hour {
		t.Fatalf("unexpected stale window: %s", cfg.MonitorStaleAfter())
	}
	if cfg.Runs.Backend != "memory" {
		t.Fatalf("unexpected runs backend: %q", cfg.Runs.Backend)
	}
	if cfg.KeysDBPath() != filepath.Join(wantData, "keys.db") {
		t.Fatalf("unexpected keys db path: %q", cfg.KeysDBPath())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "comfyforge.toml")

	type payload struct {
		Router struct {
			DefaultStrategy string `toml:"default_strategy"`
		} `toml:"router"`
		Monitor struct {
			IntervalMinutes int `toml:"interval_minutes"`
		} `toml:"monitor"`
		Providers map[string]struct {
			BaseURL string `toml:"base_url"`
		} `toml:"providers"`
	}
	custom := payload{}
	custom.Router.DefaultStrategy = "COST"
	custom.Monitor.IntervalMinutes = 5
	custom.Providers = map[string]struct {
		BaseURL string `toml:"base_url"`
	}{"OpenAI": {BaseURL: "https://example.com/v1/"}}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Router.DefaultStrategy != "cost" {
		t.Fatalf("expected strategy to be lowercased, got %q", cfg.Router.DefaultStrategy)
	}
	if cfg.MonitorInterval() != 5*time.Minute {
		t.Fatalf("expected monitor interval 5m, got %s", cfg.MonitorInterval())
	}
	provider := cfg.Provider("openai")
	if provider.BaseURL != "https://example.com/v1" {
		t.Fatalf("expected trimmed provider base url, got %q", provider.BaseURL)
	}
	if provider.RetryAttempts != 1 {
		t.Fatalf("expected default retry attempts, got %d", provider.RetryAttempts)
	}
}

func TestAPITokenFromEnv(t *testing.T) {
	t.Setenv("COMFYFORGE_API_TOKEN", "env-token")
	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.APIToken != "env-token" {
		t.Fatalf("expected token from env, got %q", cfg.Server.APIToken)
	}
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.Contains(string(encoded), "env-token") {
		t.Fatal("expected encoded config to redact api token")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"strategy", func(c *config.Config) { c.Router.DefaultStrategy = "fastest" }, "router.default_strategy"},
		{"interval", func(c *config.Config) { c.Monitor.IntervalMinutes = 0 }, "monitor.interval_minutes must be positive"},
		{"backend", func(c *config.Config) { c.Runs.Backend = "etcd" }, "runs.backend"},
		{"redis addr", func(c *config.Config) { c.Runs.Backend = "redis" }, "runs.redis_addr"},
		{"max entries", func(c *config.Config) { c.Runs.MaxEntries = 0 }, "runs.max_entries"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	t.Setenv("HOME", t.TempDir())
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Runs.RedisPrefix != "comfyforge:runs:" {
		t.Fatalf("unexpected redis prefix: %q", cfg.Runs.RedisPrefix)
	}
}
