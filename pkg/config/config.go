package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/knotsocial/knot/pkg/telemetry"
)

// Load reads a YAML configuration file, layers it over the defaults,
// and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against the CUE schema first, then
// against the struct tags. The schema catches shape and range problems;
// the tags catch cross-field rules.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed rule %q", fe.Namespace(), fe.Tag())
		}
		return err
	}

	return nil
}

// TelemetryConfig expands the YAML-facing telemetry section into the
// full telemetry configuration.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if c.Telemetry.Environment == "production" {
		tc = telemetry.ProductionConfig()
	}

	tc.Environment = c.Telemetry.Environment
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	if c.Telemetry.MetricsListenAddress != "" {
		tc.Metrics.ListenAddress = c.Telemetry.MetricsListenAddress
	}
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled
	if c.Telemetry.TracingExporter != "" {
		tc.Tracing.Exporter = c.Telemetry.TracingExporter
	}
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint

	return tc
}
