// Package attempt tracks the lifecycle of capture attempts.
//
// An attempt is one capture cycle against an external conversation. The
// Tracker owns every Attempt record and all of its phase transitions:
//
//	idle → prompt_sent → streaming → captured_ready
//	                 ↘ superseded | disposed (terminal)
//
// # Invariants
//
// At most one attempt per (platform, conversation id) is in a non-terminal
// phase. Binding a second attempt to the same pair supersedes the first.
//
// Terminal attempts, and captured_ready attempts that have sat idle past
// their TTL, are purged passively on the next Create. There is no background
// timer. The table is additionally capped by an LRU bound on update recency.
//
// No Tracker operation fails. Unknown ids produce "not found" results, since
// callers treat a missing attempt as "not yet observed".
package attempt
