package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "knot",
		Short: "knot - Relationship Synchronization Engine",
		Long: `knot keeps bidirectional connection state consistent across
independently stored per-user records.

Every connection lives as two half-edges, one on each user's record.
The engine writes them in a fixed order, detects races by re-reading
before each write, and repairs half-written edges both at read time
and through an offline reconciliation sweep. Operations pass an OPA
policy gate before anything is written.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newUserCommand())
	rootCmd.AddCommand(newRequestCommand())
	rootCmd.AddCommand(newRespondCommand())
	rootCmd.AddCommand(newConnectionsCommand())
	rootCmd.AddCommand(newIncomingCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newGateCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
