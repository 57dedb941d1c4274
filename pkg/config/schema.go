package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// configSchema is the CUE definition every loaded configuration must
// satisfy. Durations arrive as integer nanoseconds after YAML decoding.
const configSchema = `
#Config: {
	store: {
		driver: "sqlite" | "memory"
		path:   string
	}
	engine: {
		call_timeout:     int & >=0
		retry_attempts:   int & >=0 & <=10
		retry_base_delay: int & >=0
	}
	policy: {
		enabled:             bool
		paths:               *null | [...string]
		watch:               bool
		pending_request_cap: int & >=0
		connection_cap:      int & >=0
	}
	telemetry: {
		environment:            "development" | "staging" | "production"
		log_level:              "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format:             "console" | "json"
		metrics_enabled:        bool
		metrics_listen_address: string
		tracing_enabled:        bool
		tracing_exporter:       "otlp" | "stdout" | "none"
		tracing_endpoint:       string
	}
}
`

// validateSchema unifies the configuration with the CUE schema and
// reports the first constraint it breaks.
func validateSchema(c *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("config schema is missing the #Config definition")
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config schema violation: %s", cueerrors.Details(err, nil))
	}

	return nil
}
