package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair half-written edges",
		Long: `Repair half-written edges left behind by partial writes. Repairs
only ever prune the dangling half; a half-written operation is never
completed on the actor's behalf.`,
	}

	cmd.AddCommand(newReconcileSweepCommand())
	cmd.AddCommand(newReconcilePairCommand())

	return cmd
}

func newReconcileSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Sweep all records and repair every broken pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := rt.engine.Sweep(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}

			fmt.Printf("users scanned:  %d\n", report.UsersScanned)
			fmt.Printf("pairs checked:  %d\n", report.PairsChecked)
			fmt.Printf("violations:     %d\n", report.Violations)
			fmt.Printf("repairs:        %d\n", report.Repairs)
			if report.Failures > 0 {
				fmt.Printf("failures:       %d\n", report.Failures)
			}
			return nil
		},
	}
}

func newReconcilePairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <user> <other>",
		Short: "Check and repair a single pair of records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			violations, repairs, err := rt.engine.RepairPair(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			log.Info().
				Int("violations", violations).
				Int("repairs", repairs).
				Msg("Pair reconciled")

			if jsonOutput {
				return printJSON(map[string]int{
					"violations": violations,
					"repairs":    repairs,
				})
			}
			if violations == 0 {
				fmt.Println("pair is consistent")
				return nil
			}
			fmt.Printf("%d violation(s), %d repair(s) applied\n", violations, repairs)
			return nil
		},
	}
}
