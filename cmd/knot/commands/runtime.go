package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/knotsocial/knot/pkg/config"
	"github.com/knotsocial/knot/pkg/gate"
	"github.com/knotsocial/knot/pkg/policy"
	"github.com/knotsocial/knot/pkg/relation"
	"github.com/knotsocial/knot/pkg/stores"
	"github.com/knotsocial/knot/pkg/telemetry"
)

// runtime bundles the wired components every command works with.
type runtime struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    stores.Store
	engine   *relation.Engine
	gate     *gate.Gate
	policies *policy.Engine
}

// newRuntime loads configuration and wires the store, policy gate,
// relation engine, and session gate. The returned cleanup function
// closes the store and flushes telemetry.
func newRuntime(ctx context.Context) (*runtime, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		log.Warn().Err(err).Msg("Failed to start metrics server")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var gatekeeper relation.Gatekeeper
	var policies *policy.Engine
	if cfg.Policy.Enabled {
		policies, err = policy.NewEngine(tel.Logger.Zerolog(), policy.Limits{
			PendingRequestCap: cfg.Policy.PendingRequestCap,
			ConnectionCap:     cfg.Policy.ConnectionCap,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to initialize policy engine: %w", err)
		}
		if len(cfg.Policy.Paths) > 0 {
			load := policies.LoadPolicies
			if cfg.Policy.Watch {
				load = policies.WatchPolicies
			}
			if err := load(ctx, cfg.Policy.Paths); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		gatekeeper = policies
	}

	engine := relation.NewEngine(store, gatekeeper, tel, relation.Config{
		CallTimeout:    cfg.Engine.CallTimeout.Std(),
		RetryAttempts:  cfg.Engine.RetryAttempts,
		RetryBaseDelay: cfg.Engine.RetryBaseDelay.Std(),
	})

	cleanup := func() {
		if policies != nil {
			if err := policies.StopWatching(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop policy watcher")
			}
		}
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return &runtime{
		cfg:      cfg,
		tel:      tel,
		store:    store,
		engine:   engine,
		gate:     gate.NewGate(store, tel),
		policies: policies,
	}, cleanup, nil
}

// openStore creates, initializes, and migrates the configured store.
func openStore(ctx context.Context, cfg *config.Config) (stores.Store, error) {
	var store stores.Store
	switch cfg.Store.Driver {
	case "memory":
		store = stores.NewMemoryStore()
	default:
		s, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		store = s
	}

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// printResult renders an operation result for the terminal, or as JSON
// with --json.
func printResult(res *relation.Result) error {
	if jsonOutput {
		return printJSON(res)
	}

	switch res.Status {
	case relation.StatusOK:
		fmt.Printf("ok: state is now %s\n", res.State)
	case relation.StatusPartiallyApplied:
		fmt.Printf("partially applied: %s\n", res.Reason)
		fmt.Println("retry the same operation to finish it")
	default:
		fmt.Printf("rejected (%s): %s\n", res.Code, res.Reason)
	}
	return nil
}

// printJSON writes any value as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
