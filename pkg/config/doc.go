// Package config loads and validates the knot service configuration.
//
// Configuration is written in YAML and layered over the defaults from
// DefaultConfig. Every loaded file passes two checks: the CUE schema in
// schema.go, which pins the shape and value ranges of each section, and
// the validator struct tags, which cover cross-field rules such as the
// sqlite driver requiring a path.
//
// A minimal configuration file:
//
//	store:
//	  driver: sqlite
//	  path: /var/lib/knot/knot.db
//	policy:
//	  pending_request_cap: 100
//	telemetry:
//	  log_level: debug
//
// The Watcher reloads the file on change; a reload that fails
// validation keeps the previous configuration.
package config
