// Package config loads, normalizes, and validates capgate configuration.
//
// It supplies defaults for every component, reads an optional TOML file,
// expands user paths for the file-backed lease stores, and reports the
// first invalid setting with the section and field that caused it. Values
// from the file override the defaults field by field; unknown keys are
// rejected so that typos surface instead of silently falling back.
//
// The CAPGATE_REDIS_PASSWORD environment variable fills store.redis_password
// when the file leaves it empty.
package config
