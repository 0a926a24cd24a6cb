// Package pkg holds the pieces every carlink package shares: component
// tagged logging on top of [log/slog], the sentinel errors of the driver,
// and the status a backend reports for a bulk transfer.
//
// Logging is process-wide. Commands set it up once:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.SetLogFormat(pkg.LogFormatJSON)
//	pkg.LogInfo(pkg.ComponentSession, "attached", "in", "0x81")
//
// Errors are matched with [errors.Is]. The receive loop absorbs
// [ErrFraming], [ErrDecode], [ErrShortTransfer] and [ErrTransfer] and
// counts them; lifecycle methods return [ErrDeviceState] and
// [ErrInvalidState] to the caller, and a session that gives up reports
// [ErrCircuitOpen].
package pkg
