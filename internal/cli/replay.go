package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/capgate/internal/harness"
)

// ReplayOutput is the result of replaying one scenario file.
type ReplayOutput struct {
	File     string          `json:"file"`
	Scenario string          `json:"scenario"`
	Pass     bool            `json:"pass"`
	Errors   []string        `json:"errors,omitempty"`
	Result   *harness.Result `json:"result,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var showTrace bool
	var canonical bool

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>...",
		Short: "Replay signal scenarios through the fusion engine",
		Long: `Replay one or more scenario files through a fresh fusion engine on a
manual clock and check their expectations and assertions.

The [attempts], [readiness], and [fusion] config sections form the base
configuration; a scenario's config block overrides it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad config, unreadable or invalid scenario)

Examples:
  capgate replay scenarios/stream_settles.yaml
  capgate replay scenarios/*.yaml --trace
  capgate replay scenarios/stream_settles.yaml --canonical > stream_settles.golden`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, rootOpts, args, showTrace, canonical)
		},
	}

	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the resolution of every step")
	cmd.Flags().BoolVar(&canonical, "canonical", false, "print the canonical JSON trace snapshot of each scenario")

	return cmd
}

func runReplay(cmd *cobra.Command, rootOpts *RootOptions, paths []string, showTrace, canonical bool) error {
	f := rootOpts.formatter(cmd)

	cfg, err := rootOpts.Config()
	if err != nil {
		_ = f.Error(CodeConfig, err.Error(), nil)
		return err
	}
	logger := rootOpts.Logger(cmd.ErrOrStderr(), cfg)

	outputs := make([]ReplayOutput, 0, len(paths))
	failed := 0
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			_ = f.Error(CodeScenario, err.Error(), map[string]string{"file": path})
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load scenario %s", path), err)
		}

		f.VerboseLog("replaying %s (%d steps)", path, len(scenario.Steps))
		result, err := harness.Run(scenario,
			harness.WithConfig(cfg.FusionConfig()),
			harness.WithTerminalField(cfg.Fusion.TerminalField),
			harness.WithLogger(logger),
		)
		if err != nil {
			_ = f.Error(CodeScenario, err.Error(), map[string]string{"file": path})
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run scenario %s", path), err)
		}
		if !result.Pass {
			failed++
		}

		out := ReplayOutput{
			File:     path,
			Scenario: scenarioName(scenario, path),
			Pass:     result.Pass,
			Errors:   result.Errors,
		}
		if showTrace {
			out.Result = result
		}
		if canonical {
			snap := harness.NewSnapshot(out.Scenario, result)
			data, err := snap.MarshalCanonical()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode trace snapshot", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(data)); err != nil {
				return err
			}
		}
		outputs = append(outputs, out)
	}

	if !canonical {
		err := f.Emit(outputs, func(w io.Writer) error {
			for _, out := range outputs {
				if err := writeReplayText(w, out); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(w, "\n%d passed, %d failed\n", len(outputs)-failed, failed)
			return err
		})
		if err != nil {
			return err
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(outputs)))
	}
	return nil
}

func writeReplayText(w io.Writer, out ReplayOutput) error {
	status := "PASS"
	if !out.Pass {
		status = "FAIL"
	}
	if _, err := fmt.Fprintf(w, "%s %s (%s)\n", status, out.Scenario, out.File); err != nil {
		return err
	}
	if out.Result != nil {
		for _, ev := range out.Result.Trace {
			if _, err := fmt.Fprintf(w, "  %s\n", formatEvent(ev)); err != nil {
				return err
			}
		}
	}
	for _, msg := range out.Errors {
		if _, err := fmt.Fprintf(w, "  - %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}

func formatEvent(ev harness.TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", ev.Step, ev.Op)
	if ev.AttemptID != "" {
		fmt.Fprintf(&b, " %s", ev.AttemptID)
	}
	if ev.Source != "" {
		fmt.Fprintf(&b, " from %s", ev.Source)
	}
	fmt.Fprintf(&b, " at %d", ev.AtMs)
	if res := ev.Resolution; res != nil {
		fmt.Fprintf(&b, ": ready=%t phase=%s reason=%s", res.Ready, res.Phase, res.Reason)
		if len(res.BlockingConditions) > 0 {
			fmt.Fprintf(&b, " blocking=%s", strings.Join(res.BlockingConditions, ","))
		}
	}
	if ev.Op == harness.OpRouteChange {
		fmt.Fprintf(&b, ": disposed=%v", ev.Disposed)
	}
	return b.String()
}

func scenarioName(s *harness.Scenario, path string) string {
	if s.Name != "" {
		return s.Name
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
