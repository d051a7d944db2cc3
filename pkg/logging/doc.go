// Package logging provides a structured logging system for streamop with
// unified log handling and level filtering.
//
// This package implements a logging system built on Go's standard slog
// package, providing consistent logging behavior with structured output.
//
// # Architecture
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//
// # Usage Examples
//
// ## Initialization
//
//	import "streamop/pkg/logging"
//
//	// Initialize with Info level logging to stderr
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	// Log messages
//	logging.Info("app", "Operator starting up")
//	logging.Debug("config", "Loaded configuration from %s", configPath)
//	logging.Warn("dispatcher", "Watch closed, escalating to a sweep")
//	logging.Error("store.record", err, "Failed to persist record for %s", name)
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **app**: Application initialization and startup
//   - **config**: Configuration loading and validation
//   - **operator**: Reconciliation engine and status sync
//   - **dispatcher**: Watch event handling and sweep escalation
//   - **sweeper**: Periodic full sweeps
//   - **source.filesystem**: Standalone desired-state source
//   - **store.scram**, **store.acl**, **store.secret**, **store.record**:
//     Backing store convergence
//   - **pki**: Certificate issuance
//   - **opsserver**: Health, readiness and metrics endpoints
//
// # Controller-Runtime Integration
//
// InitForCLI points the controller-runtime logger at the same slog handler,
// so Kubernetes client internals (informers, caches) log through the
// streamop logging infrastructure without warnings about uninitialized
// loggers.
//
// # Thread Safety
//
// The logging system is fully thread-safe: concurrent logging from multiple
// goroutines is safe, and until InitForCLI runs all log calls are dropped.
package logging
