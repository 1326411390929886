// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for the SOP services.
//
// It is a thin layer over the standard library slog package that gives
// both binaries (the orchestrator and sopctl) the same log shape:
// a minimum level, a "service" attribute on every record, and a choice
// of JSON (services) or text (CLI) output.
//
// # Usage
//
// CLI, human-readable, warnings and up:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelWarn,
//	    Service: "sopctl",
//	})
//	logger.Info("sending question", "session_id", sessionID)
//
// Service, JSON, installed as the process default so plain slog calls
// inherit the handler:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
//	    Service: "sop-orchestrator",
//	    JSON:    true,
//	})
//	slog.SetDefault(logger.Slog())
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must ensure question text, tokens, and secrets are not logged:
//
//	// BAD: logs the raw question
//	logger.Info("ask", "question", req.Question)
//
//	// GOOD: log metadata only
//	logger.Info("ask", "question_chars", len(req.Question))
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity.
//
// Levels follow the slog convention and are ordered by severity:
// Debug < Info < Warn < Error. Setting a minimum level filters out all
// records below it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable, unexpected situations.
	LevelWarn

	// LevelError is for failed operations the process survives.
	LevelError
)

// String returns the human-readable name of the level.
//
// Returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges our Level type to the standard library.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name to a Level, case-insensitively.
//
// Recognized names are "debug", "info", "warn"/"warning", and "error".
// Anything else, including the empty string, returns LevelInfo so an
// unset environment variable yields a sane default.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger.
//
// A zero-value Config writes Info+ records to stderr in text format
// with no service attribute.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// Service identifies the component generating logs. When set it is
	// attached to every record as the "service" attribute so aggregated
	// logs can be filtered per component.
	Service string

	// JSON switches output from human-readable text to JSON objects.
	// Services run with JSON; the CLI keeps text.
	JSON bool

	// Output overrides the destination. Default: os.Stderr. Tests pass
	// a buffer here.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger is a leveled, structured logger with a fixed service identity.
//
// Logger is safe for concurrent use; the underlying slog.Logger is
// thread-safe and Logger itself holds no mutable state.
type Logger struct {
	slogger *slog.Logger
	level   Level
	service string
}

// New creates a Logger from cfg. See Config for defaults.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slogger := slog.New(handler)
	if cfg.Service != "" {
		slogger = slogger.With("service", cfg.Service)
	}

	return &Logger{
		slogger: slogger,
		level:   cfg.Level,
		service: cfg.Service,
	}
}

// Default returns a Logger with the zero-value Config: Info+ text
// records on stderr.
func Default() *Logger {
	return New(Config{})
}

// Slog exposes the underlying slog.Logger, mainly so a service can
// install it with slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// With returns a Logger that includes the given attributes on every
// record. The receiver is unchanged.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slogger: l.slogger.With(args...),
		level:   l.level,
		service: l.service,
	}
}

// Level returns the configured minimum level.
func (l *Logger) Level() Level {
	return l.level
}

// Debug logs at LevelDebug. args are alternating key-value pairs, as
// in slog.
func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}
