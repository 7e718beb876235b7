package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAttempts(); err != nil {
		return err
	}
	if err := c.validateReadiness(); err != nil {
		return err
	}
	if err := c.validateLeases(); err != nil {
		return err
	}
	if err := c.validateFusion(); err != nil {
		return err
	}
	if err := c.validateProbe(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAttempts() error {
	if c.Attempts.TerminalTTLMs <= 0 {
		return errors.New("attempts.terminal_ttl_ms must be positive")
	}
	if c.Attempts.ReadyTTLMs < 0 {
		return errors.New("attempts.ready_ttl_ms must be zero or positive")
	}
	if c.Attempts.MaxAttempts <= 0 {
		return errors.New("attempts.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateReadiness() error {
	if c.Readiness.MinStableMs < 0 {
		return errors.New("readiness.min_stable_ms must be zero or positive")
	}
	if c.Readiness.MaxStabilizationWaitMs < c.Readiness.MinStableMs {
		return errors.New("readiness.max_stabilization_wait_ms must be at least readiness.min_stable_ms")
	}
	if c.Readiness.SampleTTLMs <= 0 {
		return errors.New("readiness.sample_ttl_ms must be positive")
	}
	if c.Readiness.MaxSamples <= 0 {
		return errors.New("readiness.max_samples must be positive")
	}
	if c.Readiness.PruneMinIntervalMs < 0 {
		return errors.New("readiness.prune_min_interval_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateLeases() error {
	if c.Leases.Prefix == "" {
		return errors.New("leases.prefix must be set")
	}
	if c.Leases.MaxEntries <= 0 {
		return errors.New("leases.max_entries must be positive")
	}
	if c.Leases.TTLMs <= 0 {
		return errors.New("leases.ttl_ms must be positive")
	}
	return nil
}

func (c *Config) validateFusion() error {
	if c.Fusion.MaxResolutions <= 0 {
		return errors.New("fusion.max_resolutions must be positive")
	}
	if c.Fusion.ResolutionTTLMs <= 0 {
		return errors.New("fusion.resolution_ttl_ms must be positive")
	}
	if c.Fusion.TerminalField == "" {
		return errors.New("fusion.terminal_field must be set")
	}
	return nil
}

func (c *Config) validateProbe() error {
	if c.Probe.RatePerSecond < 0 {
		return errors.New("probe.rate_per_second must be zero or positive")
	}
	if c.Probe.RatePerSecond > 0 && c.Probe.Burst <= 0 {
		return errors.New("probe.burst must be positive when probe.rate_per_second is set")
	}
	if c.Probe.LeaseTTLMs <= 0 {
		return errors.New("probe.lease_ttl_ms must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for driver %q", c.Store.Driver)
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr must be set for driver \"redis\"")
		}
		if c.Store.RedisDB < 0 {
			return errors.New("store.redis_db must be zero or positive")
		}
		if c.Store.RedisKeyTTLSeconds < 0 {
			return errors.New("store.redis_key_ttl_seconds must be zero or positive")
		}
	default:
		return fmt.Errorf("store.driver %q must be one of %s", c.Store.Driver,
			strings.Join([]string{DriverMemory, DriverSQLite, DriverRedis, DriverFile}, ", "))
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}
