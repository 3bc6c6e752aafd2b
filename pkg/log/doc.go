// Package log records a machine-readable trace of everything the session does
// on the link: transactions as they are enqueued, issued, retried, completed
// or dropped, connection state changes, notifications and errors.
//
// It is separate from operational logging (slog). The trace is meant for
// post-mortem analysis with the gattlink-log tool.
//
// # Basic Usage
//
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	fl, _ := log.NewFileLogger("/var/log/gattlink/thermostat.glog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded Event values with integer keys and
// RFC 3339 nanosecond timestamps, conventionally with a .glog extension.
package log
