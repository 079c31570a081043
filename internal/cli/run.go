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

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StartAt  string
	Capacity int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file",
		Long: `Execute the steps of a yaml workflow file in declared order.

When the file sets transaction: true, storage steps marked share run inside
one transaction per alias: all writes commit together or roll back together.

Example:
  loom run ./workflows/provision.yaml
  loom run ./workflows/provision.yaml --start-at seed_rows --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StartAt, "start-at", "", "resume at the named step")
	cmd.Flags().IntVar(&opts.Capacity, "cache-capacity", cache.DefaultCapacity, "system cache tier capacity")

	return cmd
}

func runWorkflow(opts *RunOptions, path string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	logger.Debug("loading workflow", "path", path)
	file, err := ParseWorkflowFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workflow", err)
	}

	// Statement artifacts read during the build land in the same system tier
	// the run uses.
	c := cache.New(opts.Capacity, logger)
	loader, err := ArtifactLoader(file, c, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workflow", err)
	}
	wf, err := BuildWorkflow(file, loader)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workflow", err)
	}
	logger.Debug("workflow loaded", "steps", wf.Len(), "transaction", file.Transaction)

	adapter := storage.NewAdapter(logger)
	dispatcher := dispatch.New(adapter, file.Storage, logger)
	runner := workflow.NewRunner(c, adapter, dispatcher, file.Storage, workflow.WithLogger(logger))

	runOpts := []workflow.RunOption{workflow.WithTransaction(file.Transaction)}
	startAt := opts.StartAt
	if startAt == "" {
		startAt = file.StartAt
	}
	if startAt != "" {
		runOpts = append(runOpts, workflow.WithStartAt(startAt))
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	reg, err := runner.Run(context.Background(), wf, runOpts...)
	if err != nil {
		_ = out.Error(string(workflow.CodeOf(err)), err.Error())
		return WrapExitError(ExitFailure, "run failed", err)
	}

	if opts.Format == "json" {
		return out.Success(reg.Entries())
	}
	fmt.Fprint(cmd.OutOrStdout(), FormatRegistry(reg))
	return nil
}

// FormatRegistry renders a result registry as human-readable text.
func FormatRegistry(reg *workflow.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run complete: %d step(s)\n", reg.Len())
	for _, entry := range reg.Entries() {
		fmt.Fprintf(&b, "  [%d] %s = %s\n", entry.Index, entry.Name, formatEntryValue(entry.Value))
	}
	return b.String()
}

func formatEntryValue(value any) string {
	switch v := value.(type) {
	case nil:
		return workflow.NoneMarker
	case string:
		return v
	case storage.ExecResult:
		return fmt.Sprintf("rows_affected=%d last_insert_id=%d", v.RowsAffected, v.LastInsertID)
	case []map[string]any:
		return fmt.Sprintf("%d row(s)", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
