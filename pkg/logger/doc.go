// Package logger builds the daemon's structured logger on top of log/slog:
// text output in development, JSON in production, optionally appended to a
// log file.
package logger
