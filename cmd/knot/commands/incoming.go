package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIncomingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "incoming <user>",
		Short: "List a user's incoming connection requests",
		Long: `List a user's incoming connection requests. Every entry is verified
against the sender's record; half-written requests are pruned on the
way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			incoming, err := rt.engine.ListIncoming(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(incoming)
			}
			if len(incoming) == 0 {
				fmt.Println("no incoming requests")
				return nil
			}
			for _, id := range incoming {
				fmt.Println(id)
			}
			return nil
		},
	}
}
