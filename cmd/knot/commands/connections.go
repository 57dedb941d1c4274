package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List and remove established connections",
	}

	cmd.AddCommand(newConnectionsListCommand())
	cmd.AddCommand(newConnectionsRemoveCommand())

	return cmd
}

func newConnectionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's connections",
		Long: `List a user's connections. Every entry is verified against the
counterpart's record; half-written edges are pruned on the way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			connections, err := rt.engine.ListConnections(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(connections)
			}
			if len(connections) == 0 {
				fmt.Println("no connections")
				return nil
			}
			for _, id := range connections {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newConnectionsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user> <other>",
		Short: "Remove an established connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.engine.RemoveConnection(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
}
