package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Check a workflow file without executing it",
		Long: `Parse a yaml workflow file and report structural problems:
unknown step kinds, duplicate names, storage steps referencing
unconfigured aliases.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

			wf, file, err := LoadWorkflow(args[0])
			if err != nil {
				_ = out.Error(ErrCodeInvalid, err.Error())
				return WrapExitError(ExitCommandError, "validation failed", err)
			}

			executable := 0
			for _, s := range wf.Steps() {
				if !s.IsMeta() {
					executable++
				}
			}
			return out.Success(fmt.Sprintf(
				"valid: %d step(s), %d storage alias(es), transaction=%t",
				executable, len(file.Storage), file.Transaction,
			))
		},
	}
	return cmd
}
