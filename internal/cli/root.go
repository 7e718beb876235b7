package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/capgate/internal/clock"
	"github.com/roach88/capgate/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	cfg      *config.Config
	cfgPath  string
	cfgFound bool
	clock    clock.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the capgate CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capgate",
		Short: "capgate - capture consistency tools",
		Long: `Tools for the capture consistency core: replay signal scenarios through
the fusion engine, operate shared probe leases, and inspect configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default: ./capgate.toml or ~/.config/capgate/config.toml)")

	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewLeaseCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Config loads the configuration once per command invocation.
func (o *RootOptions) Config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, path, found, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.cfg, o.cfgPath, o.cfgFound = cfg, path, found
	return cfg, nil
}

// Logger builds the command logger from the [logging] section. --verbose
// forces debug level.
func (o *RootOptions) Logger(w io.Writer, cfg *config.Config) *slog.Logger {
	return newLogger(w, cfg.Logging, o.Verbose)
}

// Clock returns the clock used for lease timestamps.
func (o *RootOptions) Clock() clock.Clock {
	if o.clock == nil {
		return clock.System()
	}
	return o.clock
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func newLogger(w io.Writer, cfg config.Logging, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
