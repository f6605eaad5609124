// Package logging provides structured logging for walletlink.
package logging

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// NewLogger creates a structured logger writing to stderr.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// sensitiveParams never appear in logs.
var sensitiveParams = map[string]bool{
	"data":                       true,
	"payload":                    true,
	"nonce":                      true,
	"dapp_encryption_public_key": true,
}

// RedactURL returns raw with the values of ciphertext and key parameters
// replaced, so deeplinks can be logged. Unparseable input is dropped.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	q := u.Query()
	for k := range q {
		if sensitiveParams[k] || strings.HasSuffix(k, "_encryption_public_key") {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Common attribute keys for consistent logging.
const (
	KeyMethod     = "method"
	KeyRequestID  = "request_id"
	KeyState      = "state"
	KeyFromState  = "from"
	KeyGeneration = "generation"
	KeyURL        = "url"
	KeyCode       = "code"
	KeyError      = "error"
	KeyComponent  = "component"
	KeyAddress    = "address"
	KeyRemoteAddr = "remote_addr"
	KeyDuration   = "duration"
	KeyCount      = "count"
)
