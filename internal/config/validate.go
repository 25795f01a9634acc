package config

import (
	"fmt"
	"regexp"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateHost(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHost() error {
	if c.Host.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/trackguard/config.toml"
		}
		return fmt.Errorf("host.base_url is required. Edit %s (create with 'trackguard config init')", defaultPath)
	}
	if _, err := regexp.Compile(c.Host.EditRoutePattern); err != nil {
		return fmt.Errorf("host.edit_route_pattern: %w", err)
	}
	if _, err := regexp.Compile(c.Host.UploadRoutePattern); err != nil {
		return fmt.Errorf("host.upload_route_pattern: %w", err)
	}
	if c.Host.FormSelector == "" {
		return fmt.Errorf("host.form_selector must not be empty")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "memory":
		return nil
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
		}
		return nil
	default:
		return fmt.Errorf("cache.backend: unsupported value %q (expected memory or redis)", c.Cache.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unsupported value %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q", c.LogFormat)
	}
	return nil
}
