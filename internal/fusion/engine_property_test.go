package fusion

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roach88/capgate/internal/attempt"
	"github.com/roach88/capgate/internal/clock"
)

// Property: once disposed, every later ingest and resolve returns the same
// resolution, whatever the signals say.
func TestEngine_DisposalTerminalProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	phases := []attempt.Phase{
		attempt.PhaseIdle,
		attempt.PhasePromptSent,
		attempt.PhaseStreaming,
		attempt.PhaseCapturedReady,
		attempt.PhaseSuperseded,
		attempt.PhaseDisposed,
	}

	properties.Property("disposed resolution is frozen", prop.ForAll(
		func(before, after []int) bool {
			e := New(testConfig(), WithClock(clock.NewManual(0)))
			ts := int64(1000)
			for i, n := range before {
				ts += int64(n)
				e.IngestSignal(Signal{
					AttemptID:   "a1",
					Source:      SourceNetwork,
					Phase:       phases[n%4],
					Payload:     map[string]any{"text": fmt.Sprint(n % 3)},
					TimestampMs: ts + int64(i),
				})
			}

			frozen := e.Dispose("a1")
			for _, n := range after {
				ts += int64(n)
				got := e.IngestSignal(Signal{
					AttemptID:   "a1",
					Source:      SourceProbe,
					Phase:       phases[n%len(phases)],
					Payload:     map[string]any{"text": "final"},
					TimestampMs: ts,
				})
				if !reflect.DeepEqual(got, frozen) {
					return false
				}
			}
			return reflect.DeepEqual(e.Resolve("a1"), frozen) && !frozen.Ready
		},
		gen.SliceOf(gen.IntRange(0, 500)),
		gen.SliceOf(gen.IntRange(0, 500)),
	))

	properties.Property("ready implies live attempt", prop.ForAll(
		func(steps []int) bool {
			e := New(testConfig(), WithClock(clock.NewManual(0)))
			ts := int64(1000)
			for _, n := range steps {
				ts += int64(n % 200)
				id := fmt.Sprintf("a%d", n%3)
				res := e.IngestSignal(Signal{
					AttemptID:      id,
					Platform:       "p",
					Source:         SourceNetwork,
					Phase:          attempt.PhaseStreaming,
					ConversationID: fmt.Sprintf("c%d", n%2),
					Payload:        map[string]any{"text": "same"},
					TimestampMs:    ts,
				})
				if res.Ready && res.Phase.Terminal() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
