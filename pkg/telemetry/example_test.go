package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/knotsocial/knot/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "knot"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Engine started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("relation")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"operation":   "send_request",
		"requester":   "alice",
		"counterpart": "bob",
	})

	// Log at different levels
	logger.Debug("Reading both records")
	logger.Info("Request recorded on both sides")
	logger.Warn("Dangling incoming entry pruned")

	// Log with error
	err := fmt.Errorf("store timeout")
	logger.WithError(err).Error("Second write lost")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span for one protocol operation
	ctx, span := tel.Tracer.StartOperationSpan(ctx, "accept_request", "bob", "alice")
	defer span.End()

	// Add event
	span.AddEvent("precondition.verified")

	// Nested span for one store call
	ctx, storeSpan := tel.Tracer.StartStoreSpan(ctx, "apply_mutations", "bob")
	defer storeSpan.End()

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(storeSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record operation metrics
	start := time.Now()
	time.Sleep(5 * time.Millisecond)
	tel.Metrics.RecordOperation("send_request", "ok", time.Since(start))

	// Record store call metrics
	tel.Metrics.RecordStoreCall("apply_mutations", "ok", 2*time.Millisecond)

	// Record protocol health metrics
	tel.Metrics.RecordPartialWrite("cancel_request")
	tel.Metrics.RecordConsistencyViolation("mirror")
	tel.Metrics.RecordReconcileRepair("mirror")

	// Record gate and policy metrics
	tel.Metrics.RecordGateDecision("onboarding_required")
	tel.Metrics.RecordPolicyDenial("pending-request-cap")

	// Record error metrics
	tel.Metrics.RecordError("unavailable")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish edge lifecycle events
	tel.Events.PublishRequestSent("alice", "bob")
	tel.Events.PublishRequestAccepted("bob", "alice")
	tel.Events.PublishConnectionRemoved("alice", "bob")

	// Output varies due to async delivery, no output specified
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only repair events)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Repair event: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypeEdgeRepaired))

	// Subscribe with actor filter (only alice's activity)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Alice event: %s\n", event.Type)
	}, telemetry.FilterByActorID("alice"))

	// Publish various events
	tel.Events.PublishRequestSent("carol", "dave")      // Info - filtered by level filter
	tel.Events.PublishEdgeRepaired("alice", "bob", "symmetry") // Warning - passes level filter
	tel.Events.PublishPartialWrite("send_request", "carol", "dave") // Warning - passes level filter

	// Output varies, no output specified
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// The telemetry handle travels on the context
	if telemetry.FromTelemetryContext(ctx) == nil {
		panic("telemetry not found on context")
	}

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "reconcile_sweep",
		attribute.String("store.driver", "sqlite"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Sweeping user records")

	// Simulate the sweep
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Sweep complete")

	// Record the sweep duration
	_ = ic.Timer.Duration()

	// Output varies, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "knot"
	cfg.ServiceVersion = "1.2.3"

	// Configure OTLP exporter
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "knot"

	// Configure events
	cfg.Events.BufferSize = 10000

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	engineLogger := tel.Logger.NewComponentLogger("relation")
	gateLogger := tel.Logger.NewComponentLogger("gate")
	policyLogger := tel.Logger.NewComponentLogger("policy")

	engineLogger.Info("Relation engine initialized")
	gateLogger.Info("Session gate ready")
	policyLogger.Info("Built-in policies compiled")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
