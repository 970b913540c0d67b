package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"debug level text", &Config{Level: "debug", Format: "text"}},
		{"info level json", &Config{Level: "info", Format: "json"}},
		{"warn level text", &Config{Level: "warn", Format: "text"}},
		{"error level json", &Config{Level: "error", Format: "json"}},
		{"default level", &Config{Level: "invalid", Format: "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf
			Init(tt.config)
			slog.Error("test message")
			if !strings.Contains(buf.String(), "test message") {
				t.Errorf("Expected message in output, got %q", buf.String())
			}
		})
	}
}

func TestInitLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: "warn", Format: "text", Output: &buf})

	slog.Info("hidden")
	slog.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Expected info to be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected warn message in log")
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: "debug", Format: "text", Output: &buf})

	ctx := context.Background()
	ctx = With(ctx, RequestIDKey, "test-request-id")
	ctx = With(ctx, SessionKey, "test-session")
	ctx = With(ctx, UsernameKey, "test-user")
	ctx = With(ctx, DocumentKey, "")

	WithContext(ctx).Info("hello")

	out := buf.String()
	for _, want := range []string{"request_id=test-request-id", "session_id=test-session", "username=test-user"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "document_id") {
		t.Error("Expected empty document id to be skipped")
	}
}

func TestRequestID(t *testing.T) {
	if RequestID(context.Background()) != "" {
		t.Error("Expected empty request id")
	}
	ctx := With(context.Background(), RequestIDKey, "req-1")
	if RequestID(ctx) != "req-1" {
		t.Errorf("Expected req-1, got %s", RequestID(ctx))
	}
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	ctx := With(context.Background(), RequestIDKey, "req-123")

	Info(ctx, "info message", "key", "value")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("Expected info message in log")
	}

	buf.Reset()
	Debug(ctx, "debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("Expected debug message in log")
	}

	buf.Reset()
	Warn(ctx, "warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("Expected warn message in log")
	}

	buf.Reset()
	Error(ctx, "error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Error("Expected error message in log")
	}
}
