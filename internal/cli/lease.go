package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/capgate/internal/config"
	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/store"
)

// ClaimOutput is the result of `lease claim`.
type ClaimOutput struct {
	ResourceID string `json:"resource_id"`
	lease.ClaimResult
}

// ReleaseOutput is the result of `lease release`.
type ReleaseOutput struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner"`
	Released   bool   `json:"released"`
}

// SweepOutput is the result of `lease sweep`.
type SweepOutput struct {
	Prefix  string `json:"prefix"`
	Removed int64  `json:"removed"`
}

// NewLeaseCommand creates the lease command group.
func NewLeaseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Operate probe leases in the configured store",
		Long: `Claim, release, and list probe leases in the shared store named by the
[store] section of the configuration. The memory driver keeps leases only
for the life of one command.`,
	}

	cmd.AddCommand(newLeaseClaimCommand(rootOpts))
	cmd.AddCommand(newLeaseReleaseCommand(rootOpts))
	cmd.AddCommand(newLeaseListCommand(rootOpts))
	cmd.AddCommand(newLeaseSweepCommand(rootOpts))

	return cmd
}

func newLeaseClaimCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "claim <resource>",
		Short: "Claim or renew the lease on a resource",
		Long: `Claim the lease on a resource, or renew it when --owner already holds it.

Without --owner a fresh UUIDv7 claimant id is generated and printed so the
lease can be released later.

Exit codes:
  0 - Lease granted
  1 - Lease held by another owner, or the store could not confirm the claim
  2 - Command error (bad config, store unreachable)

Examples:
  capgate lease claim conv-1
  capgate lease claim conv-1 --owner attempt-a --ttl 10s
  capgate lease claim conv-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd, rootOpts, func(ctx context.Context, cfg *config.Config, coord *lease.Coordinator, _ openedStore) error {
				return runLeaseClaim(ctx, cmd, rootOpts, cfg, coord, args[0], owner, ttl)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "claimant id (default: new UUIDv7)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease duration (default: leases.ttl_ms)")
	return cmd
}

func runLeaseClaim(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions, cfg *config.Config,
	coord *lease.Coordinator, resourceID, owner string, ttl time.Duration) error {
	if owner == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate owner id", err)
		}
		owner = id.String()
	}
	ttlMs := cfg.Leases.TTLMs
	if ttl > 0 {
		ttlMs = ttl.Milliseconds()
	}

	result := coord.Claim(ctx, resourceID, owner, ttlMs, rootOpts.Clock().NowMs())
	f := rootOpts.formatter(cmd)

	if !result.Acquired {
		msg := fmt.Sprintf("lease on %s held by %s until %d", resourceID, result.OwnerAttemptID, result.ExpiresAtMs)
		if result.OwnerAttemptID == "" {
			msg = fmt.Sprintf("lease store could not confirm claim on %s", resourceID)
		}
		_ = f.Error(CodeLease, msg, ClaimOutput{ResourceID: resourceID, ClaimResult: result})
		return NewExitError(ExitFailure, msg)
	}

	out := ClaimOutput{ResourceID: resourceID, ClaimResult: result}
	return f.Emit(out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "granted %s to %s until %d\n", resourceID, result.OwnerAttemptID, result.ExpiresAtMs)
		return err
	})
}

func newLeaseReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "release <resource>",
		Short: "Release a lease held by --owner",
		Long: `Release the lease on a resource. Only the owner can release a live lease.

Exit codes:
  0 - Lease released
  1 - No live lease owned by --owner, or the store removal failed
  2 - Command error (bad config, store unreachable)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd, rootOpts, func(ctx context.Context, _ *config.Config, coord *lease.Coordinator, _ openedStore) error {
				resourceID := args[0]
				released := coord.Release(ctx, resourceID, owner, rootOpts.Clock().NowMs())
				f := rootOpts.formatter(cmd)
				out := ReleaseOutput{ResourceID: resourceID, Owner: owner, Released: released}
				if !released {
					msg := fmt.Sprintf("no live lease on %s owned by %s", resourceID, owner)
					_ = f.Error(CodeLease, msg, out)
					return NewExitError(ExitFailure, msg)
				}
				return f.Emit(out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "released %s\n", resourceID)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "claimant id that holds the lease (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newLeaseListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List live leases",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd, rootOpts, func(ctx context.Context, _ *config.Config, coord *lease.Coordinator, _ openedStore) error {
				leases := coord.Leases(ctx, rootOpts.Clock().NowMs())
				return rootOpts.formatter(cmd).Emit(leases, func(w io.Writer) error {
					if len(leases) == 0 {
						_, err := fmt.Fprintln(w, "No live leases.")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "RESOURCE\tOWNER\tEXPIRES_AT_MS")
					for _, l := range leases {
						fmt.Fprintf(tw, "%s\t%s\t%d\n", l.ResourceID, l.OwnerAttemptID, l.ExpiresAtMs)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newLeaseSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale lease rows from a sqlite store",
		Long: `Delete lease rows in the configured namespace that have not been written
for --older-than. Only the sqlite driver records write times.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd, rootOpts, func(ctx context.Context, cfg *config.Config, _ *lease.Coordinator, st openedStore) error {
				sq, ok := st.Store.(*store.Store)
				if !ok {
					return NewExitError(ExitCommandError,
						fmt.Sprintf("sweep requires the sqlite driver, configured driver is %q", cfg.Store.Driver))
				}
				cutoff := rootOpts.Clock().NowMs() - olderThan.Milliseconds()
				removed, err := sq.Sweep(ctx, cfg.Leases.Prefix, cutoff)
				if err != nil {
					return WrapExitError(ExitCommandError, "sweep failed", err)
				}
				out := SweepOutput{Prefix: cfg.Leases.Prefix, Removed: removed}
				return rootOpts.formatter(cmd).Emit(out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "removed %d stale lease rows\n", removed)
					return err
				})
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum age of rows to delete")
	return cmd
}

// withCoordinator loads the config, opens the store and runs fn with a
// coordinator over it. The store is closed when fn returns.
func withCoordinator(cmd *cobra.Command, rootOpts *RootOptions,
	fn func(ctx context.Context, cfg *config.Config, coord *lease.Coordinator, st openedStore) error) error {
	cfg, err := rootOpts.Config()
	if err != nil {
		return err
	}
	logger := rootOpts.Logger(cmd.ErrOrStderr(), cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openLeaseStore(ctx, cfg.Store, logger)
	if err != nil {
		_ = rootOpts.formatter(cmd).Error(CodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open lease store", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("lease store close failed", "error", err)
		}
	}()

	logger.Debug("lease store opened",
		"driver", cfg.Store.Driver,
		"prefix", cfg.Leases.Prefix,
		slog.String("path", cfg.Store.Path),
	)
	coord := lease.NewCoordinator(st.Store, cfg.LeaseConfig(), lease.WithLogger(logger))
	return fn(ctx, cfg, coord, st)
}
