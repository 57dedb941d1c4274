package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/knotsocial/knot/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a knot workspace",
		Long: `Initialize a knot workspace with a SQLite database and a default
configuration file. Running init on an existing workspace is safe;
migrations are applied idempotently.`,
		Example: `  # Initialize in ./data with ./knot.yaml
  knot init

  # Initialize with a custom data directory and config path
  knot init --data-dir /var/lib/knot --config /etc/knot/knot.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("data_dir", dataDir).
				Str("config", configPath).
				Msg("Initializing workspace")

			ctx := cmd.Context()

			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", dataDir)

			dbPath := filepath.Join(dataDir, "knot.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Printf("✓ Initialized SQLite database: %s\n", dbPath)

			defaultConfig := `# knot configuration

store:
  driver: sqlite
  path: %s

engine:
  call_timeout: 5s
  retry_attempts: 3
  retry_base_delay: 100ms

policy:
  enabled: true
  pending_request_cap: 0
  connection_cap: 0

telemetry:
  environment: development
  log_level: info
  log_format: console
  metrics_enabled: false
  metrics_listen_address: ":9090"
  tracing_enabled: false
  tracing_exporter: stdout
`
			configContent := fmt.Sprintf(defaultConfig, dbPath)

			if configPath == "" {
				configPath = "./knot.yaml"
			}
			if _, err := os.Stat(configPath); err == nil {
				fmt.Printf("✓ Config file already exists: %s\n", configPath)
			} else {
				if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				fmt.Printf("✓ Created config file: %s\n", configPath)
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Create users:\n")
			fmt.Printf("     knot user create alice --config %s\n\n", configPath)
			fmt.Printf("  2. Complete onboarding:\n")
			fmt.Printf("     knot user onboard alice --config %s\n\n", configPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory for the database")

	return cmd
}
