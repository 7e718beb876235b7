// Package harness replays signal scenarios through a fusion engine.
//
// A scenario drives a fresh engine on a manual clock, checks the resolution
// returned by each step, and evaluates assertions against the recorded
// trace and the final resolutions. Traces serialize to canonical JSON for
// golden comparison.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:
//	  min_stable_ms: 100
//	  max_stabilization_wait_ms: 1000
//	steps:
//	  - ingest:
//	      attempt_id: a1
//	      platform: chatgpt
//	      source: network
//	      phase: streaming
//	      timestamp_ms: 1000
//	      conversation_id: c1
//	      payload: { text: "Hello" }
//	    expect:
//	      ready: false
//	      reason: not_ready
//	      blocking_conditions: [content_hash_changed, awaiting_second_sample]
//	  - resolve: a1
//	    at_ms: 1200
//	  - dispose: a1
//	    at_ms: 1300
//	  - route_change: true
//	    at_ms: 1400
//	    expect:
//	      disposed: [a2]
//	assertions:
//	  - type: trace_count
//	    attempt_id: a1
//	    reason: ready
//	    count: 1
//	  - type: final_resolution
//	    attempt_id: a1
//	    expect: { phase: disposed }
//
// Ingest steps move the clock to the signal's timestamp; other steps move
// it to at_ms when set and otherwise keep the current time.
//
// # Assertion Types
//
//   - trace_contains: some trace entry for the attempt has the reason
//   - trace_order: the reasons first appear for the attempt in this order
//   - trace_count: exactly count trace entries for the attempt have the reason
//   - final_resolution: the attempt's resolution after the last step matches
//
// # Deterministic Testing
//
// Every run uses its own engine, a manual clock and a discarding logger, so
// identical scenarios produce identical traces.
package harness
