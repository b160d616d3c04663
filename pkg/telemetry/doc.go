// Package telemetry provides observability instrumentation for fetchez.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging fetch runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "fetchez"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context so the engine, executor and hooks can pick it up:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRunID("run-123").WithModule("urllist")
//	logger.Info("starting retrieval")
//	logger.WithError(err).Error("retrieval failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Run, module, fetch and hook spans nest so a single trace shows where a run
// spent its time:
//
//	ctx, span := tel.Tracer.StartFetchSpan(ctx, "urllist", url)
//	defer span.End()
//
// # Metrics
//
// Prometheus metrics cover runs, module scopes, entries, retrieval bytes and
// latency, retries, hooks and classified errors. Expose them with:
//
//	tel.StartMetricsServer()
//
// # Events
//
// The event publisher fans run lifecycle events out to subscribers without
// blocking the execution path. Subscribers receive events asynchronously and
// may filter by level, type, run or module.
package telemetry
