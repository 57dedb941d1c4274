package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state <viewer> <other>",
		Short: "Show the connection state between two users",
		Long: `Show the connection state between two users from the viewer's
perspective: unconnected, requested_by_viewer, requested_by_other, or
connected. Inconsistent halves found along the way are repaired.`,
		Example: `  knot state alice bob`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := rt.engine.GetState(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]string{
					"viewer": args[0],
					"other":  args[1],
					"state":  string(state),
				})
			}
			fmt.Println(state)
			return nil
		},
	}
}
