package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/roach88/capgate/internal/attempt"
	"github.com/roach88/capgate/internal/fusion"
	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/probe"
	"github.com/roach88/capgate/internal/readiness"
)

// EnvRedisPassword fills Store.RedisPassword when the file leaves it empty.
const EnvRedisPassword = "CAPGATE_REDIS_PASSWORD"

//go:embed sample_config.toml
var sampleConfig string

// Config is the top-level capgate configuration.
//
// Sections:
//   - Attempts: attempt table bounds and retention
//   - Readiness: stabilization window and sample table bounds
//   - Leases: lease namespace, mirror size, and default claim TTL
//   - Fusion: resolution table bounds and terminal payload field
//   - Probe: probe pacing and lease TTL
//   - Store: shared lease store driver and location
//   - Logging: log level and handler format
type Config struct {
	Attempts  Attempts  `toml:"attempts"`
	Readiness Readiness `toml:"readiness"`
	Leases    Leases    `toml:"leases"`
	Fusion    Fusion    `toml:"fusion"`
	Probe     Probe     `toml:"probe"`
	Store     Store     `toml:"store"`
	Logging   Logging   `toml:"logging"`
}

// Attempts contains attempt tracker settings.
type Attempts struct {
	TerminalTTLMs int64 `toml:"terminal_ttl_ms"`
	ReadyTTLMs    int64 `toml:"ready_ttl_ms"`
	MaxAttempts   int   `toml:"max_attempts"`
}

// Readiness contains readiness gate settings.
type Readiness struct {
	MinStableMs            int64 `toml:"min_stable_ms"`
	MaxStabilizationWaitMs int64 `toml:"max_stabilization_wait_ms"`
	SampleTTLMs            int64 `toml:"sample_ttl_ms"`
	MaxSamples             int   `toml:"max_samples"`
	PruneMinIntervalMs     int64 `toml:"prune_min_interval_ms"`
}

// Leases contains lease coordinator settings. TTLMs is the claim TTL used
// when a caller does not name one.
type Leases struct {
	Prefix     string `toml:"prefix"`
	MaxEntries int    `toml:"max_entries"`
	TTLMs      int64  `toml:"ttl_ms"`
}

// Fusion contains signal fusion engine settings.
type Fusion struct {
	MaxResolutions  int    `toml:"max_resolutions"`
	ResolutionTTLMs int64  `toml:"resolution_ttl_ms"`
	TerminalField   string `toml:"terminal_field"`
}

// Probe contains probe runner settings.
type Probe struct {
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
	LeaseTTLMs    int64   `toml:"lease_ttl_ms"`
}

// Store selects the shared lease store. Path applies to the sqlite and
// file drivers; the redis fields apply to the redis driver.
type Store struct {
	Driver             string `toml:"driver"`
	Path               string `toml:"path"`
	RedisAddr          string `toml:"redis_addr"`
	RedisPassword      string `toml:"redis_password"`
	RedisDB            int    `toml:"redis_db"`
	RedisKeyTTLSeconds int    `toml:"redis_key_ttl_seconds"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads configuration from disk, applies defaults, normalizes paths,
// and validates the result. It returns the config, the resolved path, and
// whether the file existed. A missing file is not an error when path is
// empty; an explicit path that does not exist is.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, explicit, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	exists := false
	data, err := os.ReadFile(resolvedPath)
	switch {
	case err == nil:
		exists = true
		if err := decode(data, &cfg); err != nil {
			return nil, resolvedPath, true, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, resolvedPath, false, fmt.Errorf("read config %s: %w", resolvedPath, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, resolvedPath, exists, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolvedPath, exists, err
	}
	return &cfg, resolvedPath, exists, nil
}

func decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// resolveConfigPath returns path expanded, or the first existing default
// location. The second result reports whether the caller named the file.
func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", true, err
		}
		return expanded, true, nil
	}

	if _, err := os.Stat("capgate.toml"); err == nil {
		abs, err := filepath.Abs("capgate.toml")
		if err != nil {
			return "", false, fmt.Errorf("resolve project config: %w", err)
		}
		return abs, false, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "capgate", "config.toml"), false, nil
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// CreateSample writes a commented sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// AttemptConfig returns the attempt tracker settings.
func (c *Config) AttemptConfig() attempt.Config {
	return attempt.Config{
		TerminalTTLMs: c.Attempts.TerminalTTLMs,
		ReadyTTLMs:    c.Attempts.ReadyTTLMs,
		MaxAttempts:   c.Attempts.MaxAttempts,
	}
}

// ReadinessConfig returns the readiness gate settings.
func (c *Config) ReadinessConfig() readiness.Config {
	return readiness.Config{
		MinStableMs:            c.Readiness.MinStableMs,
		MaxStabilizationWaitMs: c.Readiness.MaxStabilizationWaitMs,
		SampleTTLMs:            c.Readiness.SampleTTLMs,
		MaxSamples:             c.Readiness.MaxSamples,
		PruneMinIntervalMs:     c.Readiness.PruneMinIntervalMs,
	}
}

// FusionConfig returns the fusion engine settings, tracker and gate included.
func (c *Config) FusionConfig() fusion.Config {
	return fusion.Config{
		Attempts:        c.AttemptConfig(),
		Readiness:       c.ReadinessConfig(),
		MaxResolutions:  c.Fusion.MaxResolutions,
		ResolutionTTLMs: c.Fusion.ResolutionTTLMs,
	}
}

// LeaseConfig returns the lease coordinator settings.
func (c *Config) LeaseConfig() lease.Config {
	return lease.Config{
		Prefix:     c.Leases.Prefix,
		MaxEntries: c.Leases.MaxEntries,
	}
}

// ProbeConfig returns the probe runner settings.
func (c *Config) ProbeConfig() probe.Config {
	return probe.Config{
		LeaseTTLMs:    c.Probe.LeaseTTLMs,
		RatePerSecond: c.Probe.RatePerSecond,
		Burst:         c.Probe.Burst,
	}
}
