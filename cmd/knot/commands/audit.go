package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the operation audit trail",
		Long: `Show the operation audit trail, most recent first. Every protocol
operation is recorded with its actor, target, and outcome.`,
		Example: `  # The last 20 operations
  knot audit

  # Page through older entries
  knot audit --limit 50 --offset 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := rt.store.ListAudit(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list audit entries: %w", err)
			}

			if jsonOutput {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("no audit entries")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-17s %s -> %s  %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Action, e.Actor, e.TargetID, e.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")

	return cmd
}
