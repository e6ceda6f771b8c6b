package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRouter(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	if err := c.validateRuns(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRouter() error {
	switch c.Router.DefaultStrategy {
	case "cost", "speed", "balanced", "random":
	default:
		return fmt.Errorf("router.default_strategy: unsupported value %q (want cost, speed, balanced, or random)", c.Router.DefaultStrategy)
	}
	if c.Router.MinQuota < 0 {
		return errors.New("router.min_quota must be zero or positive")
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if c.Monitor.IntervalMinutes <= 0 {
		return errors.New("monitor.interval_minutes must be positive")
	}
	if c.Monitor.StaleAfterMinutes < 0 {
		return errors.New("monitor.stale_after_minutes must be zero or positive")
	}
	if c.Monitor.ProbeTimeoutSeconds <= 0 {
		return errors.New("monitor.probe_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRuns() error {
	switch c.Runs.Backend {
	case "memory":
	case "redis":
		if c.Runs.RedisAddr == "" {
			return errors.New("runs.redis_addr must be set when runs.backend is redis")
		}
	default:
		return fmt.Errorf("runs.backend: unsupported value %q (want memory or redis)", c.Runs.Backend)
	}
	if c.Runs.RetentionMinutes <= 0 {
		return errors.New("runs.retention_minutes must be positive")
	}
	if c.Runs.MaxEntries <= 0 {
		return errors.New("runs.max_entries must be positive")
	}
	if c.Runs.RedisDB < 0 {
		return errors.New("runs.redis_db must be zero or positive")
	}
	return nil
}

func (c *Config) validateProviders() error {
	for name, p := range c.Providers {
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("providers.%s.timeout_seconds must be zero or positive", name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
