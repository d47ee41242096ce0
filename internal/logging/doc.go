// Package logging provides structured logging for the milhouse state store.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Store components log recoverable conditions (skipped
// records, reclaimed stale locks, pruned snapshots) rather than failing, so
// the log is the primary place an operator learns about partial corruption.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer safely.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/workspace/.milhouse", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Warn("skipping invalid record", "index", 3, "reason", reason)
//
// # Context Propagation
//
//	runLogger := logger.WithRun("20261018-093000-auth-1a2b3c")
//	taskLogger := runLogger.WithStateType("tasks")
//	taskLogger.Info("tasks saved", "count", 12)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"tasks saved","run_id":"20261018-093000-auth-1a2b3c","state_type":"tasks","count":12}
//
// Library code that receives a nil *Logger should call [OrNop] so logging is
// always safe to call.
//
// # Rotation and Reading
//
// [NewRotatingLogger] rotates debug.log by size into debug.log.1 (newest)
// through debug.log.N. [ReadLogs] reads those files back in order and
// [FilterLogs] and [WriteLogs] back the "milhouse logs" command.
package logging
