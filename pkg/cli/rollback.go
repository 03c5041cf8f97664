package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/console"
	"github.com/forgemove/ghmigrate/pkg/pipeline/action"
	"github.com/forgemove/ghmigrate/pkg/pipeline/apply"
)

func newRollbackCommand(flags *rootFlags) *cobra.Command {
	var skipConfirm bool

	cmd := &cobra.Command{
		Use:     "rollback",
		Short:   "Undo a previous apply by reversing its executed actions",
		GroupID: "recover",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(flags, config.ModeApply)
			if err != nil {
				return err
			}

			if !skipConfirm {
				confirmed, err := console.ConfirmAction(
					"Roll back the migration? Reversible entities will be deleted.",
					"Roll back", "Cancel")
				if err != nil || !confirmed {
					return &exitError{code: ExitBadInput, msg: "rollback cancelled"}
				}
			}

			_, dest, err := newClients(cfg)
			if err != nil {
				return &exitError{code: ExitBadInput, msg: err.Error()}
			}
			if dest == nil {
				return &exitError{code: ExitBadInput, msg: "rollback requires a destination token"}
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			report, err := apply.RollbackMigration(ctx, dest, action.NewRegistry(), cfg.ArtifactRoot)
			if err != nil {
				return &exitError{code: ExitBadInput, msg: err.Error()}
			}

			fmt.Fprintln(os.Stderr, console.FormatInfoMessage(fmt.Sprintf(
				"rollback %s: %d rolled back, %d skipped (non-reversible), %d failed",
				report.Status, report.RolledBack, report.Skipped, report.Failed)))
			for _, e := range report.Errors {
				fmt.Fprintln(os.Stderr, console.FormatWarningMessage(e))
			}

			switch report.Status {
			case "success":
				return nil
			case "partial":
				return &exitError{code: ExitPartial}
			default:
				return &exitError{code: ExitFailed}
			}
		},
	}

	cmd.Flags().BoolVar(&skipConfirm, "yes", false, "skip the confirmation prompt")
	return cmd
}
