// Package observability provides structured logging, engine metrics,
// and distributed tracing for the script execution engine.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with sensitive data redaction.
//
// Built on Go's slog package:
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - JSON output for production, text for development
//   - Redaction of secrets (API keys, tokens, HMAC secrets) in values
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies the output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// AddSource includes file and line number in log records.
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data.
	RedactPatterns []string
}

// defaultRedactPatterns cover the common secret shapes that must never
// reach the log stream.
var defaultRedactPatterns = []string{
	`sk-[a-zA-Z0-9-_]{20,}`,
	`(?i)bearer\s+[a-zA-Z0-9._-]+`,
	`(?i)(api[_-]?key|token|secret|password|hmac)["':=\s]+[a-zA-Z0-9+/=._-]{8,}`,
}

// NewLogger creates a logger with redaction enabled.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	patterns := append([]string{}, defaultRedactPatterns...)
	patterns = append(patterns, cfg.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: redacts,
	}
}

// Slog returns the underlying slog.Logger for components that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Redact masks secret-shaped substrings in s.
func (l *Logger) Redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Debug logs at debug level with redaction applied.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(l.Redact(msg), l.redactArgs(args)...)
}

// Info logs at info level with redaction applied.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(l.Redact(msg), l.redactArgs(args)...)
}

// Warn logs at warn level with redaction applied.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(l.Redact(msg), l.redactArgs(args)...)
}

// Error logs at error level with redaction applied.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(l.Redact(msg), l.redactArgs(args)...)
}

// redactArgs masks string attribute values; keys are left alone.
func (l *Logger) redactArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok && i%2 == 1 {
			out[i] = l.Redact(s)
			continue
		}
		out[i] = a
	}
	return out
}
