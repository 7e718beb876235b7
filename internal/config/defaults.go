package config

import (
	"github.com/roach88/capgate/internal/attempt"
	"github.com/roach88/capgate/internal/content"
	"github.com/roach88/capgate/internal/fusion"
	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/probe"
	"github.com/roach88/capgate/internal/readiness"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverFile   = "file"
)

const (
	defaultStoreDriver = DriverMemory
	defaultSQLitePath  = "~/.local/share/capgate/leases.db"
	defaultFilePath    = "~/.local/share/capgate/leases.json"
	defaultRedisAddr   = "127.0.0.1:6379"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultLeaseTTLMs  = lease.DefaultTTLMs
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Attempts: Attempts{
			TerminalTTLMs: attempt.DefaultTerminalTTLMs,
			ReadyTTLMs:    attempt.DefaultReadyTTLMs,
			MaxAttempts:   attempt.DefaultMaxAttempts,
		},
		Readiness: Readiness{
			MinStableMs:            readiness.DefaultMinStableMs,
			MaxStabilizationWaitMs: readiness.DefaultMaxStabilizationWaitMs,
			SampleTTLMs:            readiness.DefaultSampleTTLMs,
			MaxSamples:             readiness.DefaultMaxSamples,
			PruneMinIntervalMs:     readiness.DefaultPruneMinIntervalMs,
		},
		Leases: Leases{
			Prefix:     lease.DefaultPrefix,
			MaxEntries: lease.DefaultMaxEntries,
			TTLMs:      defaultLeaseTTLMs,
		},
		Fusion: Fusion{
			MaxResolutions:  fusion.DefaultMaxResolutions,
			ResolutionTTLMs: fusion.DefaultResolutionTTLMs,
			TerminalField:   content.DefaultTerminalField,
		},
		Probe: Probe{
			RatePerSecond: probe.DefaultRatePerSecond,
			Burst:         probe.DefaultBurst,
			LeaseTTLMs:    probe.DefaultLeaseTTLMs,
		},
		Store: Store{
			Driver:    defaultStoreDriver,
			RedisAddr: defaultRedisAddr,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
