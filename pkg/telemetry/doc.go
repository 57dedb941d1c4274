// Package telemetry provides observability instrumentation for knot.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics, and an in-process event publisher
// into a single Telemetry handle carried through the context.
//
// Initialize at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Component loggers attach fixed fields:
//
//	logger := tel.Logger.NewComponentLogger("relation-engine")
//	logger.WithUserID("alice").Info("request sent")
//
// Edge lifecycle events (request.sent, request.accepted, edge.repaired,
// ...) are published through tel.Events for notification surfaces to
// subscribe to; they are observational only and never part of the
// relationship state itself.
//
// Key metrics exposed at the /metrics endpoint:
//
//   - knot_relation_ops_total{operation,status}
//   - knot_relation_op_duration_seconds{operation}
//   - knot_partial_writes_total{operation}
//   - knot_reconcile_repairs_total{invariant}
//   - knot_consistency_violations_total{invariant}
//   - knot_store_calls_total{call,status}
//   - knot_store_call_duration_seconds{call}
package telemetry
