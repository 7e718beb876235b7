// Package probe runs expensive confirmation probes with at most one probe
// per resource at a time.
//
// Scheduler is a single-slot-per-id cancellation table: starting a probe
// for an id that is already running cancels the older one. Runner puts a
// rate limiter and a cross-process lease in front of the scheduler so that
// only one observer across all processes probes a resource at once.
package probe
