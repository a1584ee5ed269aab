package types

// Logger defines methods for structured logging.
//
// Messages carry alternating key-value pairs, the same convention used by
// log/slog and zap.SugaredLogger, so either can be adapted with a thin wrapper.
type Logger interface {
	// Debug logs a message at debug level.
	Debug(msg string, keysAndValues ...any)

	// Info logs a message at info level.
	Info(msg string, keysAndValues ...any)

	// Warn logs a message at warn level.
	Warn(msg string, keysAndValues ...any)

	// Error logs a message at error level.
	Error(msg string, keysAndValues ...any)

	// Fatal logs a message and terminates the process with os.Exit(1).
	// Test and no-op implementations may choose not to exit.
	Fatal(msg string, keysAndValues ...any)
}
