package testsupport

import (
	"path/filepath"
	"testing"

	"comfyforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPIToken sets the HTTP API bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithProviderBaseURL points a provider at a test server.
func WithProviderBaseURL(provider, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		p := b.cfg.Providers[provider]
		p.BaseURL = baseURL
		if p.RetryAttempts == 0 {
			p.RetryAttempts = 1
		}
		b.cfg.Providers[provider] = p
	}
}

// WithPersistOutputs toggles saving run outputs as assets.
func WithPersistOutputs(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Runs.PersistOutputs = enabled
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
