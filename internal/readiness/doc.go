// Package readiness debounces noisy content samples into a single
// ready/not-ready verdict per attempt.
//
// # Stability Rule
//
// Content is ready only once two consecutive samples carry the same
// non-empty content hash and are at least MinStableMs apart. A different
// hash restarts the window. A sample with no canonical data (empty hash or
// zero text length) is reported as such and leaves the window untouched:
// "no data yet" is not the same event as "data changed".
//
// # Timeout
//
// Each attempt's record is stamped on its first sample. Once
// MaxStabilizationWaitMs has elapsed from that stamp, every non-ready
// verdict reports stabilization_timeout so callers can take a degraded
// acceptance path instead of waiting forever.
//
// # Bounded Memory
//
// Records expire after SampleTTLMs without a sample and are capped at
// MaxSamples by LRU. TTL scans run at most once per PruneMinIntervalMs. A
// pruned record cold-starts: the next sample behaves like the first one.
package readiness
