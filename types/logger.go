package types

// Logger defines methods for structured logging.
//
// Compatible with zap.SugaredLogger, the slog adapter in internal/logging,
// and other structured loggers. Every method takes alternating key-value
// pairs; custodian uses snake_case keys such as "partition", "member_id"
// and "episode_id".
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)

	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)

	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)

	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)

	// Fatal logs a message at FatalLevel and then terminates the process
	// (or, for test loggers, fails the test).
	Fatal(msg string, keysAndValues ...any)
}
