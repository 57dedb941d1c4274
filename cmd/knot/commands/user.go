package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/knotsocial/knot/pkg/stores"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user records",
	}

	cmd.AddCommand(newUserCreateCommand())
	cmd.AddCommand(newUserOnboardCommand())
	cmd.AddCommand(newUserListCommand())
	cmd.AddCommand(newUserShowCommand())

	return cmd
}

func newUserCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create a user record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			userID := args[0]
			if err := rt.store.CreateUser(ctx, stores.NewUserRecord(userID)); err != nil {
				return fmt.Errorf("failed to create user %s: %w", userID, err)
			}

			log.Info().Str("user_id", userID).Msg("User created")
			fmt.Printf("created user %s\n", userID)
			return nil
		},
	}
}

func newUserOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard <user-id>",
		Short: "Mark a user's onboarding as completed",
		Long: `Mark a user's onboarding as completed. The flag only moves from
false to true; repeating the command is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			userID := args[0]
			if err := rt.gate.CompleteOnboarding(ctx, userID); err != nil {
				return err
			}

			fmt.Printf("user %s completed onboarding\n", userID)
			return nil
		},
	}
}

func newUserListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all user ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ids, err := rt.store.ListUserIDs(ctx)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if jsonOutput {
				return printJSON(ids)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newUserShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			userID := args[0]
			record, found, err := rt.store.GetUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to read user %s: %w", userID, err)
			}
			if !found {
				return fmt.Errorf("user %s not found", userID)
			}

			if jsonOutput {
				return printJSON(record)
			}

			fmt.Printf("id:                   %s\n", record.ID)
			fmt.Printf("onboarding_completed: %v\n", record.OnboardingCompleted)
			fmt.Printf("sent_requests:        %v\n", record.SentRequests.Members())
			fmt.Printf("incoming_requests:    %v\n", record.IncomingRequests.Members())
			fmt.Printf("matched:              %v\n", record.Matched.Members())
			return nil
		},
	}
}
