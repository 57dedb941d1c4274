package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts values like "5s" as
// well as raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("expected a duration string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the knot service. It is loaded
// from YAML, checked against the CUE schema, and then validated with
// struct tags.
type Config struct {
	// Store configures where user records live.
	Store StoreConfig `yaml:"store" json:"store"`

	// Engine tunes the relation engine's store-call behavior.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Policy configures the OPA gatekeeper.
	Policy PolicyConfig `yaml:"policy" json:"policy"`

	// Telemetry configures logging, tracing, metrics, and events.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	// Driver selects the store backend.
	Driver string `yaml:"driver" json:"driver" validate:"required,oneof=sqlite memory"`

	// Path is the SQLite database file. Ignored by the memory driver.
	Path string `yaml:"path" json:"path" validate:"required_if=Driver sqlite"`
}

// EngineConfig tunes the relation engine.
type EngineConfig struct {
	// CallTimeout bounds each individual store call.
	CallTimeout Duration `yaml:"call_timeout" json:"call_timeout" validate:"gte=0"`

	// RetryAttempts is the number of tries per store call.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" validate:"gte=0,lte=10"`

	// RetryBaseDelay is the backoff base between retries.
	RetryBaseDelay Duration `yaml:"retry_base_delay" json:"retry_base_delay" validate:"gte=0"`
}

// PolicyConfig configures the policy gatekeeper.
type PolicyConfig struct {
	// Enabled turns policy evaluation on or off.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Paths lists extra .rego files or directories to load alongside
	// the built-in policies.
	Paths []string `yaml:"paths" json:"paths"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch" json:"watch"`

	// PendingRequestCap limits outstanding sent requests per user.
	// Zero disables the cap.
	PendingRequestCap int `yaml:"pending_request_cap" json:"pending_request_cap" validate:"gte=0"`

	// ConnectionCap limits connections per user. Zero disables the cap.
	ConnectionCap int `yaml:"connection_cap" json:"connection_cap" validate:"gte=0"`
}

// TelemetryConfig is the YAML-facing telemetry section. It covers the
// knobs operators actually turn; everything else keeps the telemetry
// package defaults.
type TelemetryConfig struct {
	// Environment names the deployment environment.
	Environment string `yaml:"environment" json:"environment" validate:"oneof=development staging production"`

	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=console json"`

	// MetricsEnabled exposes the Prometheus endpoint.
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`

	// MetricsListenAddress is the metrics HTTP listen address.
	MetricsListenAddress string `yaml:"metrics_listen_address" json:"metrics_listen_address"`

	// TracingEnabled turns on trace export.
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled"`

	// TracingExporter selects the trace exporter (otlp, stdout, none).
	TracingExporter string `yaml:"tracing_exporter" json:"tracing_exporter" validate:"oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `yaml:"tracing_endpoint" json:"tracing_endpoint"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "knot.db",
		},
		Engine: EngineConfig{
			CallTimeout:    Duration(5 * time.Second),
			RetryAttempts:  3,
			RetryBaseDelay: Duration(100 * time.Millisecond),
		},
		Policy: PolicyConfig{
			Enabled:           true,
			PendingRequestCap: 0,
			ConnectionCap:     0,
		},
		Telemetry: TelemetryConfig{
			Environment:          "development",
			LogLevel:             "info",
			LogFormat:            "console",
			MetricsEnabled:       false,
			MetricsListenAddress: ":9090",
			TracingEnabled:       false,
			TracingExporter:      "stdout",
		},
	}
}
