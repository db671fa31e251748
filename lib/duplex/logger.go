package duplex

import "log/slog"

// logger is the package-wide logger used for receive-loop and dispatch
// diagnostics.
var logger *slog.Logger = slog.Default()

// SetLogger overrides the package logger.
//
// If not set, slog.Default() is used. Call it before starting any channel.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	logger = l
}
