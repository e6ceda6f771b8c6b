package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeRouter()
	c.normalizeRuns()
	c.normalizeProviders()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.APIBind = strings.TrimSpace(c.Server.APIBind)
	if c.Server.APIBind == "" {
		c.Server.APIBind = defaultAPIBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("COMFYFORGE_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeRouter() {
	c.Router.DefaultStrategy = strings.ToLower(strings.TrimSpace(c.Router.DefaultStrategy))
	if c.Router.DefaultStrategy == "" {
		c.Router.DefaultStrategy = defaultStrategy
	}
}

func (c *Config) normalizeRuns() {
	c.Runs.Backend = strings.ToLower(strings.TrimSpace(c.Runs.Backend))
	if c.Runs.Backend == "" {
		c.Runs.Backend = defaultRunsBackend
	}
	c.Runs.RedisAddr = strings.TrimSpace(c.Runs.RedisAddr)
	c.Runs.RedisPrefix = strings.TrimSpace(c.Runs.RedisPrefix)
	if c.Runs.RedisPrefix == "" {
		c.Runs.RedisPrefix = defaultRedisPrefix
	}
}

func (c *Config) normalizeProviders() {
	if c.Providers == nil {
		c.Providers = map[string]Provider{}
		return
	}
	for name, p := range c.Providers {
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		p.ValidateURL = strings.TrimSpace(p.ValidateURL)
		if p.RetryAttempts <= 0 {
			p.RetryAttempts = defaultProviderRetryAttempts
		}
		c.Providers[name] = p
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
