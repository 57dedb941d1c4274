package commands

import (
	"github.com/spf13/cobra"
)

func newRespondCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Accept or reject incoming connection requests",
	}

	cmd.AddCommand(newRespondAcceptCommand())
	cmd.AddCommand(newRespondRejectCommand())

	return cmd
}

func newRespondAcceptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <user> <requester>",
		Short: "Accept an incoming connection request",
		Example: `  # bob accepts alice's request
  knot respond accept bob alice`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.engine.AcceptRequest(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
}

func newRespondRejectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <user> <requester>",
		Short: "Reject an incoming connection request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.engine.RejectRequest(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
}
