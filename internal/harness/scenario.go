package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/capgate/internal/attempt"
	"github.com/roach88/capgate/internal/fusion"
)

// Scenario is a replayable sequence of engine operations with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides engine settings for this scenario only.
	Config *Overrides `yaml:"config,omitempty"`

	// Steps run in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and resolutions.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Overrides adjusts the engine configuration. Nil fields keep the base value.
type Overrides struct {
	MinStableMs            *int64 `yaml:"min_stable_ms,omitempty"`
	MaxStabilizationWaitMs *int64 `yaml:"max_stabilization_wait_ms,omitempty"`
	TerminalTTLMs          *int64 `yaml:"terminal_ttl_ms,omitempty"`
	ReadyTTLMs             *int64 `yaml:"ready_ttl_ms,omitempty"`
	MaxAttempts            *int   `yaml:"max_attempts,omitempty"`
	MaxResolutions         *int   `yaml:"max_resolutions,omitempty"`
	ResolutionTTLMs        *int64 `yaml:"resolution_ttl_ms,omitempty"`
	TerminalField          string `yaml:"terminal_field,omitempty"`
}

// apply returns base with the overrides applied.
func (o *Overrides) apply(base fusion.Config) fusion.Config {
	if o == nil {
		return base
	}
	if o.MinStableMs != nil {
		base.Readiness.MinStableMs = *o.MinStableMs
	}
	if o.MaxStabilizationWaitMs != nil {
		base.Readiness.MaxStabilizationWaitMs = *o.MaxStabilizationWaitMs
	}
	if o.TerminalTTLMs != nil {
		base.Attempts.TerminalTTLMs = *o.TerminalTTLMs
	}
	if o.ReadyTTLMs != nil {
		base.Attempts.ReadyTTLMs = *o.ReadyTTLMs
	}
	if o.MaxAttempts != nil {
		base.Attempts.MaxAttempts = *o.MaxAttempts
	}
	if o.MaxResolutions != nil {
		base.MaxResolutions = *o.MaxResolutions
	}
	if o.ResolutionTTLMs != nil {
		base.ResolutionTTLMs = *o.ResolutionTTLMs
	}
	return base
}

// Step is one engine operation. Exactly one of Ingest, Dispose,
// RouteChange and Resolve is set.
type Step struct {
	Ingest      *fusion.Signal `yaml:"ingest,omitempty"`
	Dispose     string         `yaml:"dispose,omitempty"`
	RouteChange bool           `yaml:"route_change,omitempty"`
	Resolve     string         `yaml:"resolve,omitempty"`

	// AtMs sets the clock before a dispose, route_change or resolve step.
	AtMs int64 `yaml:"at_ms,omitempty"`

	// Expect checks the step's outcome. If nil, nothing is checked.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Op returns the step's operation name.
func (s Step) Op() string {
	switch {
	case s.Ingest != nil:
		return OpIngest
	case s.Dispose != "":
		return OpDispose
	case s.RouteChange:
		return OpRouteChange
	case s.Resolve != "":
		return OpResolve
	}
	return ""
}

// Step operations.
const (
	OpIngest      = "ingest"
	OpDispose     = "dispose"
	OpRouteChange = "route_change"
	OpResolve     = "resolve"
)

// Expect is a subset match against a resolution. Unset fields are not
// checked. An explicit empty blocking_conditions list requires none.
type Expect struct {
	Ready              *bool    `yaml:"ready,omitempty"`
	Phase              string   `yaml:"phase,omitempty"`
	Reason             string   `yaml:"reason,omitempty"`
	BlockingConditions []string `yaml:"blocking_conditions,omitempty"`
	Fidelity           *string  `yaml:"fidelity,omitempty"`

	// Disposed is the exact id list a route_change step must return.
	Disposed []string `yaml:"disposed,omitempty"`
}

// Assertion validates the trace or a final resolution.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count and
	// final_resolution.
	Type string `yaml:"type"`

	AttemptID string `yaml:"attempt_id"`

	// Reason is used by trace_contains and trace_count.
	Reason string `yaml:"reason,omitempty"`

	// Reasons is the expected order for trace_order.
	Reasons []string `yaml:"reasons,omitempty"`

	// Count is the exact number of matches for trace_count.
	Count int `yaml:"count,omitempty"`

	// Expect is matched against the final resolution.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertFinalResolution = "final_resolution"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	ops := 0
	if step.Ingest != nil {
		ops++
	}
	if step.Dispose != "" {
		ops++
	}
	if step.RouteChange {
		ops++
	}
	if step.Resolve != "" {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("steps[%d]: exactly one of ingest, dispose, route_change, resolve is required", index)
	}
	if step.AtMs < 0 {
		return fmt.Errorf("steps[%d]: at_ms must be non-negative", index)
	}

	if sig := step.Ingest; sig != nil {
		if sig.AttemptID == "" {
			return fmt.Errorf("steps[%d].ingest: attempt_id is required", index)
		}
		if !sig.Source.Valid() {
			return fmt.Errorf("steps[%d].ingest: unknown source %q", index, sig.Source)
		}
		if sig.Phase != "" && !sig.Phase.Valid() {
			return fmt.Errorf("steps[%d].ingest: unknown phase %q", index, sig.Phase)
		}
		if step.AtMs != 0 {
			return fmt.Errorf("steps[%d]: at_ms is not allowed on ingest; use timestamp_ms", index)
		}
	}

	if step.Expect != nil {
		if err := validateExpect(step.Expect); err != nil {
			return fmt.Errorf("steps[%d].expect: %w", index, err)
		}
		if step.Expect.Disposed != nil && !step.RouteChange {
			return fmt.Errorf("steps[%d].expect: disposed applies only to route_change", index)
		}
	}
	return nil
}

func validateExpect(e *Expect) error {
	if e.Phase != "" {
		if _, ok := attempt.ParsePhase(e.Phase); !ok {
			return fmt.Errorf("unknown phase %q", e.Phase)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.AttemptID == "" {
		return fmt.Errorf("assertions[%d]: attempt_id is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Reason == "" {
			return fmt.Errorf("assertions[%d]: reason is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Reasons) == 0 {
			return fmt.Errorf("assertions[%d]: reasons list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Reason == "" {
			return fmt.Errorf("assertions[%d]: reason is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalResolution:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_resolution", index)
		}
		if err := validateExpect(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d].expect: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
