// Package clock provides the millisecond time source used by every
// capture-consistency component.
//
// Components never read wall-clock time directly. Production code injects
// System(); tests inject a Manual clock and move it explicitly, so that
// stability windows, lease expiry and TTL eviction are fully deterministic.
package clock
