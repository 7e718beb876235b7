package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/capgate/internal/content"
	"github.com/roach88/capgate/internal/fusion"
)

// TraceSnapshot captures the trace and final resolutions of a run.
type TraceSnapshot struct {
	ScenarioName string              `json:"scenario_name"`
	Trace        []TraceEvent        `json:"trace"`
	Final        []fusion.Resolution `json:"final"`
}

// NewSnapshot builds the snapshot of result under name.
func NewSnapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.Final,
	}
}

// MarshalCanonical serializes the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return content.MarshalCanonical(s.toCanonicalMap())
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step":  event.Step,
			"op":    event.Op,
			"at_ms": event.AtMs,
		}
		if event.AttemptID != "" {
			eventMap["attempt_id"] = event.AttemptID
		}
		if event.Source != "" {
			eventMap["source"] = event.Source
		}
		if event.Resolution != nil {
			eventMap["resolution"] = resolutionMap(*event.Resolution)
		}
		if event.Op == OpRouteChange {
			eventMap["disposed"] = stringList(event.Disposed)
		}
		traceList[i] = eventMap
	}

	finalList := make([]any, len(s.Final))
	for i, res := range s.Final {
		finalList[i] = resolutionMap(res)
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final":         finalList,
	}
}

func resolutionMap(res fusion.Resolution) map[string]any {
	m := map[string]any{
		"attempt_id":    res.AttemptID,
		"ready":         res.Ready,
		"phase":         string(res.Phase),
		"reason":        string(res.Reason),
		"updated_at_ms": res.UpdatedAtMs,
	}
	if len(res.BlockingConditions) > 0 {
		m["blocking_conditions"] = stringList(res.BlockingConditions)
	}
	if res.Fidelity != fusion.FidelityNone {
		m["fidelity"] = string(res.Fidelity)
	}
	return m
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's snapshot against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
