package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// Fatal logs through the default slog logger and exits. Only for
// failures before the styled logger exists (flag parsing, config).
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// Fatalf is Fatal with printf formatting.
func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// FatalWithLogger logs the failure on the given logger before exiting,
// so it reaches the rotated log file as well as the terminal. Used by
// both binaries for unrecoverable startup errors, most notably the
// aggregator's single-instance lock conflict.
func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
