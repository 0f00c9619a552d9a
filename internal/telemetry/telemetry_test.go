package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestHandler_ForwardsToNext(t *testing.T) {
	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewHandler(next, "test")).With("component", "sync").WithGroup("cycle")

	logger.Debug("hidden")
	logger.Info("sync complete", "pushed", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record passed the level filter: %q", out)
	}
	for _, want := range []string{"sync complete", "component=sync", "cycle.pushed=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestHandler_EnabledFollowsNext(t *testing.T) {
	h := NewHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}), "test")
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info enabled under a Warn handler")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("Error disabled under a Warn handler")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestConvert_FlattensGroups(t *testing.T) {
	attr := slog.Group("photo", slog.String("hash", "abc"), slog.Int("pos", 2), slog.Bool("ok", true))
	got := convert("", attr)
	if len(got) != 3 {
		t.Fatalf("converted %d attributes, want 3", len(got))
	}
	keys := []string{got[0].Key, got[1].Key, got[2].Key}
	want := []string{"photo.hash", "photo.pos", "photo.ok"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	if got[1].Value.AsInt64() != 2 {
		t.Errorf("pos = %v, want 2", got[1].Value)
	}
}

func TestConvert_DropsEmpty(t *testing.T) {
	if got := convert("", slog.Attr{}); got != nil {
		t.Errorf("convert(empty) = %v, want nil", got)
	}
}

func TestNewResource_DefaultName(t *testing.T) {
	res, err := newResource(Config{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	var name, version string
	for _, kv := range res.Attributes() {
		switch kv.Key {
		case semconv.ServiceNameKey:
			name = kv.Value.AsString()
		case semconv.ServiceVersionKey:
			version = kv.Value.AsString()
		}
	}
	if name != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", name, DefaultServiceName)
	}
	if version != "1.2.3" {
		t.Errorf("service.version = %q, want 1.2.3", version)
	}
}
