package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type      string       // Assertion type for categorization
	AttemptID string       // Attempt the assertion is about
	Expected  string       // Human-readable expected outcome
	Actual    string       // Human-readable actual outcome
	Trace     []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s (%s)\n", e.Type, e.AttemptID)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nTrace for %s:\n", e.AttemptID)
	for _, event := range e.Trace {
		if event.AttemptID != e.AttemptID || event.Resolution == nil {
			continue
		}
		res := event.Resolution
		fmt.Fprintf(&buf, "  [%d] %s at %d: %s ready=%t phase=%s %v\n",
			event.Step, event.Op, event.AtMs, res.Reason, res.Ready, res.Phase, res.BlockingConditions)
	}

	return buf.String()
}

// reasonsFor returns the reasons recorded for attemptID, in trace order.
func reasonsFor(trace []TraceEvent, attemptID string) []string {
	var out []string
	for _, event := range trace {
		if event.AttemptID == attemptID && event.Resolution != nil {
			out = append(out, string(event.Resolution.Reason))
		}
	}
	return out
}

// assertTraceContains checks that some trace entry for the attempt has the
// assertion's reason.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, reason := range reasonsFor(trace, assertion.AttemptID) {
		if reason == assertion.Reason {
			return nil
		}
	}
	return &AssertionError{
		Type:      AssertTraceContains,
		AttemptID: assertion.AttemptID,
		Expected:  fmt.Sprintf("a resolution with reason %s", assertion.Reason),
		Actual:    "not found in trace",
		Trace:     trace,
	}
}

// assertTraceOrder checks that the reasons first appear in the given order.
// Other reasons may appear in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, reason := range reasonsFor(trace, assertion.AttemptID) {
		if _, seen := positions[reason]; !seen {
			positions[reason] = i + 1 // 1-indexed for readability
		}
	}

	for _, reason := range assertion.Reasons {
		if positions[reason] == 0 {
			return &AssertionError{
				Type:      AssertTraceOrder,
				AttemptID: assertion.AttemptID,
				Expected:  fmt.Sprintf("all reasons present: %v", assertion.Reasons),
				Actual:    fmt.Sprintf("missing reason: %s", reason),
				Trace:     trace,
			}
		}
	}

	for i := 1; i < len(assertion.Reasons); i++ {
		prev := assertion.Reasons[i-1]
		curr := assertion.Reasons[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:      AssertTraceOrder,
				AttemptID: assertion.AttemptID,
				Expected:  fmt.Sprintf("reasons in order: %v", assertion.Reasons),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count trace entries for the attempt
// have the assertion's reason.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, reason := range reasonsFor(trace, assertion.AttemptID) {
		if reason == assertion.Reason {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:      AssertTraceCount,
			AttemptID: assertion.AttemptID,
			Expected:  fmt.Sprintf("%d resolutions with reason %s", assertion.Count, assertion.Reason),
			Actual:    fmt.Sprintf("%d resolutions", count),
			Trace:     trace,
		}
	}
	return nil
}

// assertFinalResolution matches the attempt's final resolution against the
// assertion's expect clause.
func assertFinalResolution(result *Result, assertion Assertion) error {
	res, ok := result.FinalFor(assertion.AttemptID)
	if !ok {
		return &AssertionError{
			Type:      AssertFinalResolution,
			AttemptID: assertion.AttemptID,
			Expected:  "a final resolution",
			Actual:    "attempt never ingested or disposed",
			Trace:     result.Trace,
		}
	}
	if mismatches := matchExpect(res, assertion.Expect); len(mismatches) > 0 {
		return &AssertionError{
			Type:      AssertFinalResolution,
			AttemptID: assertion.AttemptID,
			Expected:  "final resolution to match expect",
			Actual:    strings.Join(mismatches, "; "),
			Trace:     result.Trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalResolution:
			err = assertFinalResolution(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
