package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"msg=\"request sent\"", "method=connect", "count=2"}},
		{"json", []string{`"msg":"request sent"`, `"method":"connect"`, `"count":2`}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter("info", tt.format, &buf)

			logger.Info("request sent", KeyMethod, "connect", KeyCount, 2)

			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %s: %s", want, buf.String())
				}
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name         string
		configLevel  string
		logLevel     slog.Level
		shouldAppear bool
	}{
		{"debug at debug level", "debug", slog.LevelDebug, true},
		{"info at debug level", "debug", slog.LevelInfo, true},
		{"debug at info level", "info", slog.LevelDebug, false},
		{"info at info level", "info", slog.LevelInfo, true},
		{"warn at info level", "info", slog.LevelWarn, true},
		{"info at warn level", "warn", slog.LevelInfo, false},
		{"warn at warn level", "warn", slog.LevelWarn, true},
		{"error at warn level", "warn", slog.LevelError, true},
		{"warn at error level", "error", slog.LevelWarn, false},
		{"error at error level", "error", slog.LevelError, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tc.configLevel, "text", &buf)

			logger.Log(context.Background(), tc.logLevel, "test message")

			hasOutput := buf.Len() > 0
			if hasOutput != tc.shouldAppear {
				t.Errorf("level %s at config %s: expected shouldAppear=%v, got output=%v",
					tc.logLevel, tc.configLevel, tc.shouldAppear, hasOutput)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // Default
		{"", slog.LevelInfo},        // Default
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			result := ParseLevel(tc.input)
			if result != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, result, tc.expected)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("NopLogger() is enabled for errors")
	}
	logger.Error("discarded", KeyError, "nothing")
}

func TestLoggerWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("request sent",
		KeyMethod, "sign_message",
		KeyRequestID, "req-1",
		KeyState, "CONNECTED",
	)

	output := buf.String()
	for _, want := range []string{"method=sign_message", "request_id=req-1", "state=CONNECTED"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s attribute, got: %s", want, output)
		}
	}
}

func TestRedactURL(t *testing.T) {
	raw := "walletlink://onConnect?counterparty_encryption_public_key=KEY&data=CIPHER&nonce=N&ref=keep"
	got := RedactURL(raw)

	for _, secret := range []string{"KEY", "CIPHER", "=N&"} {
		if strings.Contains(got, secret) {
			t.Errorf("RedactURL() leaked %q: %s", secret, got)
		}
	}
	if !strings.Contains(got, "ref=keep") {
		t.Errorf("RedactURL() dropped a public parameter: %s", got)
	}
	if !strings.HasPrefix(got, "walletlink://onConnect?") {
		t.Errorf("RedactURL() changed the path: %s", got)
	}

	if got := RedactURL("://bad"); got != "<unparseable>" {
		t.Errorf("RedactURL(bad) = %q", got)
	}
}
