package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"text", "json", ""} {
		if logger := New("info", format); logger == nil {
			t.Fatalf("New(info, %q) returned nil", format)
		}
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}
}

func TestL_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-456")
	L(ctx).Info("hello")

	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-456"`)) {
		t.Errorf("log line missing request id: %s", buf.String())
	}
}

func TestL_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	L(WithLogger(context.Background(), logger)).Info("hello")

	if bytes.Contains(buf.Bytes(), []byte("request_id")) {
		t.Errorf("unexpected request id attr: %s", buf.String())
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected the process default logger")
	}
}
