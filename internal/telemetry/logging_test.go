package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMaskID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+5491155551234", "**********1234"},
		{"1234", "****"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskID(tt.in); got != tt.want {
			t.Errorf("MaskID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_MasksEndUser(t *testing.T) {
	tests := []struct {
		name string
		mask bool
		want string
	}{
		{"masked", true, "**********1234"},
		{"plain", false, "+5491155551234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, LogOptions{MaskEndUsers: tt.mask})
			WithEndUser(WithTenant(logger, "libreria"), "+5491155551234").Info("run finished")

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if entry["end_user_id"] != tt.want || entry["tenant_id"] != "libreria" {
				t.Errorf("entry = %v", entry)
			}
		})
	}
}

func TestNewLogger_TextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogOptions{Format: "text", Level: "warn"})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Errorf("output = %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext() without logger must return default")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if FromContext(WithLogger(context.Background(), logger)) != logger {
		t.Error("FromContext() lost the logger")
	}
}
