package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/artifact"
	"github.com/loomhq/loom/internal/cache"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Roots []string
	Pin   bool
}

// NewLoadCommand creates the load command: resolve logical artifact paths
// under the search roots, read them through the cache, and print their kind,
// size, and content digest.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <artifact-path>...",
		Short: "Resolve artifacts and print their kind and content digest",
		Long: `Resolve each logical artifact path under the search roots and read it.
Paths without an extension are probed as .yaml, .yml, .sql, then .json.

With --pin each artifact is also pinned under its logical path.

Example:
  loom load --root ./resources forms/customer schema/init.sql`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			c := cache.New(cache.DefaultCapacity, logger)

			resolver, err := artifact.NewResolver(opts.Roots...)
			if err != nil {
				return WrapExitError(ExitCommandError, "bad search roots", err)
			}
			loader := artifact.NewLoader(resolver, c, logger)
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			results := make([]map[string]any, 0, len(args))
			for _, logical := range args {
				var (
					blob *artifact.Blob
					err  error
				)
				if opts.Pin {
					blob, err = loader.Pin(logical, logical)
				} else {
					blob, err = loader.Load(logical)
				}
				if err != nil {
					_ = out.Error(ErrCodeNotFound, err.Error())
					return WrapExitError(ExitCommandError, "load failed", err)
				}
				results = append(results, map[string]any{
					"path":   logical,
					"kind":   string(blob.Kind),
					"bytes":  len(blob.Data),
					"digest": fmt.Sprintf("%016x", blob.Digest),
					"pinned": opts.Pin,
				})
			}

			if opts.Format == "json" {
				return out.Success(results)
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s kind=%s bytes=%d digest=%s", r["path"], r["kind"], r["bytes"], r["digest"])
				if opts.Pin {
					fmt.Fprint(cmd.OutOrStdout(), " pinned")
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&opts.Roots, "root", []string{"."}, "artifact search root (repeatable)")
	cmd.Flags().BoolVar(&opts.Pin, "pin", false, "pin each artifact under its logical path")

	return cmd
}
