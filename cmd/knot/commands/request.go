package commands

import (
	"github.com/spf13/cobra"
)

func newRequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send and withdraw connection requests",
	}

	cmd.AddCommand(newRequestSendCommand())
	cmd.AddCommand(newRequestCancelCommand())

	return cmd
}

func newRequestSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <from> <to>",
		Short: "Send a connection request",
		Long: `Send a connection request from one user to another.

If the counterpart has already requested the sender, the two requests
resolve directly into a connection.`,
		Example: `  # alice requests a connection with bob
  knot request send alice bob`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.engine.SendRequest(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
}

func newRequestCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <from> <to>",
		Short: "Withdraw a pending connection request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := rt.engine.CancelRequest(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(res)
		},
	}
}
