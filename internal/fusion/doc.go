// Package fusion combines attempt lifecycle and content stability into a
// single "safe to export" resolution per attempt.
//
// Signals arrive from several channels (network, lifecycle, DOM, probe).
// Each one is routed through the attempt tracker, fingerprinted by a
// content extractor and judged by the readiness gate. The Engine fuses
// the two answers: an attempt is ready only when its content is stable and
// the attempt has not been superseded or disposed.
//
// Disposal is one-way. A disposed attempt's resolution is frozen and
// returned unchanged by every later IngestSignal or Resolve until it ages
// out of the bounded resolution table, after which Resolve reports
// not_captured like any unknown attempt.
package fusion
