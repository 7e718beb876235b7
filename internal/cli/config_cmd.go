package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/capgate/internal/config"
)

const redacted = "********"

// ConfigShowOutput is the result of `config show`.
type ConfigShowOutput struct {
	Path  string `json:"path"`
	Found bool   `json:"found"`
	TOML  string `json:"toml"`
}

// ConfigInitOutput is the result of `config init`.
type ConfigInitOutput struct {
	Path string `json:"path"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigInitCommand(rootOpts))

	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, normalization, and validation.
The redis password is redacted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.Config()
			if err != nil {
				_ = f.Error(CodeConfig, err.Error(), nil)
				return err
			}

			shown := *cfg
			if shown.Store.RedisPassword != "" {
				shown.Store.RedisPassword = redacted
			}
			data, err := shown.Marshal()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode config", err)
			}

			out := ConfigShowOutput{Path: rootOpts.cfgPath, Found: rootOpts.cfgFound, TOML: string(data)}
			return f.Emit(out, func(w io.Writer) error {
				source := out.Path
				if !out.Found {
					source = "defaults (no file at " + out.Path + ")"
				}
				if _, err := fmt.Fprintf(w, "# source: %s\n", source); err != nil {
					return err
				}
				_, err := w.Write(data)
				return err
			})
		},
	}
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var path string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample config file",
		Long: `Write a sample config file containing every setting at its default value.

Examples:
  capgate config init
  capgate config init --path ./capgate.toml --overwrite`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to resolve home directory", err)
				}
				path = filepath.Join(home, ".config", "capgate", "config.toml")
			}

			if !overwrite {
				if _, err := os.Stat(path); err == nil {
					msg := fmt.Sprintf("%s already exists; use --overwrite to replace it", path)
					_ = f.Error(CodeConfig, msg, nil)
					return NewExitError(ExitCommandError, msg)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return WrapExitError(ExitCommandError, "failed to check config path", err)
				}
			}

			if err := config.CreateSample(path); err != nil {
				_ = f.Error(CodeConfig, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to write sample config", err)
			}
			return f.Emit(ConfigInitOutput{Path: path}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "wrote %s\n", path)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "destination (default: ~/.config/capgate/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")

	return cmd
}
