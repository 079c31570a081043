package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/cache"
	"github.com/loomhq/loom/internal/dispatch"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
)

// NewStatsCommand creates the stats command: execute a workflow, then print
// per-tier cache counters.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stats <workflow-file>",
		Short:         "Execute a workflow and report cache tier statistics",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			file, err := ParseWorkflowFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load workflow", err)
			}

			c := cache.New(cache.DefaultCapacity, logger)
			loader, err := ArtifactLoader(file, c, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load workflow", err)
			}
			wf, err := BuildWorkflow(file, loader)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load workflow", err)
			}

			adapter := storage.NewAdapter(logger)
			dispatcher := dispatch.New(adapter, file.Storage, logger)
			runner := workflow.NewRunner(c, adapter, dispatcher, file.Storage, workflow.WithLogger(logger))

			if _, err := runner.Run(context.Background(), wf, workflow.WithTransaction(file.Transaction)); err != nil {
				return WrapExitError(ExitFailure, "run failed", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			tiers := []cache.Tier{cache.TierSystem, cache.TierPinned, cache.TierConnection}

			if rootOpts.Format == "json" {
				payload := make(map[string]cache.Stats, len(tiers))
				for _, tier := range tiers {
					stats, err := c.Stats(tier)
					if err != nil {
						return WrapExitError(ExitCommandError, "stats failed", err)
					}
					payload[tier.String()] = stats
				}
				return out.Success(payload)
			}

			var b strings.Builder
			for _, tier := range tiers {
				stats, err := c.Stats(tier)
				if err != nil {
					return WrapExitError(ExitCommandError, "stats failed", err)
				}
				fmt.Fprintf(&b, "%-10s size=%d", tier.String(), stats.Size)
				if stats.Capacity > 0 {
					fmt.Fprintf(&b, "/%d", stats.Capacity)
				}
				fmt.Fprintf(&b, " hits=%d misses=%d hit_rate=%.2f evictions=%d invalidations=%d\n",
					stats.Hits, stats.Misses, stats.HitRate, stats.Evictions, stats.Invalidations)
			}
			fmt.Fprint(cmd.OutOrStdout(), b.String())
			return nil
		},
	}
	return cmd
}
