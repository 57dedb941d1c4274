package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knot.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate, got %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Engine.RetryAttempts != 3 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
store:
  driver: memory
engine:
  call_timeout: 2s
policy:
  pending_request_cap: 10
telemetry:
  log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Engine.CallTimeout.Std() != 2*time.Second {
		t.Errorf("expected 2s call timeout, got %s", cfg.Engine.CallTimeout.Std())
	}
	if cfg.Policy.PendingRequestCap != 10 {
		t.Errorf("expected cap 10, got %d", cfg.Policy.PendingRequestCap)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Telemetry.LogLevel)
	}

	// Untouched sections keep their defaults.
	if cfg.Engine.RetryAttempts != 3 {
		t.Errorf("expected default retry attempts, got %d", cfg.Engine.RetryAttempts)
	}
	if cfg.Telemetry.LogFormat != "console" {
		t.Errorf("expected default log format, got %s", cfg.Telemetry.LogFormat)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
store:
  driver: memory
  flavor: strawberry
`)

	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unknown field")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  call_timeout: soon
`)

	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unparseable duration")
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unsupported driver")
	}
}

func TestValidateRejectsNegativeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.PendingRequestCap = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected a schema violation for a negative cap")
	}
}

func TestValidateSqliteRequiresPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when the sqlite driver has no path")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.LogLevel = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}

func TestTelemetryConfigExpansion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.Environment = "production"
	cfg.Telemetry.LogFormat = "json"
	cfg.Telemetry.MetricsEnabled = true
	cfg.Telemetry.MetricsListenAddress = ":9191"

	tc := cfg.TelemetryConfig()
	if tc.Environment != "production" {
		t.Errorf("expected production environment, got %s", tc.Environment)
	}
	if tc.Logging.Format != "json" {
		t.Errorf("expected json logging, got %s", tc.Logging.Format)
	}
	if !tc.Metrics.Enabled || tc.Metrics.ListenAddress != ":9191" {
		t.Errorf("expected metrics on :9191, got %+v", tc.Metrics)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("expanded telemetry config must validate, got %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfigFile(t, `
store:
  driver: memory
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	watcher := NewWatcher(zerolog.New(nil).Level(zerolog.Disabled), path)
	err := watcher.Watch(ctx, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer func() { _ = watcher.Stop() }()

	update := `
store:
  driver: memory
policy:
  pending_request_cap: 25
`
	if err := os.WriteFile(path, []byte(update), 0644); err != nil {
		t.Fatalf("failed to update config file: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Policy.PendingRequestCap != 25 {
			t.Errorf("expected the reloaded cap, got %d", cfg.Policy.PendingRequestCap)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the configuration reload")
	}
}
