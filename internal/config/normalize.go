package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeStore()
	c.normalizeLogging()
	c.Leases.Prefix = strings.TrimSpace(c.Leases.Prefix)
	c.Fusion.TerminalField = strings.TrimSpace(c.Fusion.TerminalField)
	return c.normalizeStorePath()
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	c.Store.RedisAddr = strings.TrimSpace(c.Store.RedisAddr)
	if c.Store.RedisPassword == "" {
		c.Store.RedisPassword = os.Getenv(EnvRedisPassword)
	}
}

func (c *Config) normalizeStorePath() error {
	path := strings.TrimSpace(c.Store.Path)
	if path == "" {
		switch c.Store.Driver {
		case DriverSQLite:
			path = defaultSQLitePath
		case DriverFile:
			path = defaultFilePath
		default:
			return nil
		}
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	c.Store.Path = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand path %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("abs path %q: %w", path, err)
	}
	return abs, nil
}
