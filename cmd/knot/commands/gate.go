package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knotsocial/knot/pkg/gate"
)

func newGateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the session/onboarding gate",
	}

	cmd.AddCommand(newGateCheckCommand())

	return cmd
}

func newGateCheckCommand() *cobra.Command {
	var (
		userID        string
		destination   string
		authenticated bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show the routing decision for a user and destination",
		Long: `Show the routing decision for a user heading to a destination:
allow, login_required, or onboarding_required. Destinations other than
login and onboarding are treated as home.`,
		Example: `  # Where does an onboarded user land?
  knot gate check --user alice --authenticated --dest home

  # Anonymous visitor heading home
  knot gate check --dest home`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			decision, err := rt.gate.Check(ctx, userID, authenticated, gate.Destination(destination))
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]string{
					"user":        userID,
					"destination": destination,
					"decision":    string(decision),
				})
			}
			fmt.Println(decision)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id of the session")
	cmd.Flags().StringVar(&destination, "dest", "home", "destination surface (login, onboarding, home)")
	cmd.Flags().BoolVar(&authenticated, "authenticated", false, "whether the session is authenticated")

	return cmd
}
