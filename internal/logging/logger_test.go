package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerPrefixesComponent(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("queue drained",
		String(FieldComponent, "sync-engine"),
		Int("processed", 3),
	)

	out := buf.String()
	if !strings.Contains(out, "sync-engine: queue drained") {
		t.Fatalf("expected component prefix, got %q", out)
	}
	if !strings.Contains(out, "processed=3") {
		t.Fatalf("expected attr rendering, got %q", out)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Warn("upload failed", String("event_name", "Spring Fair 2026"))

	if !strings.Contains(buf.String(), `event_name="Spring Fair 2026"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestPrettyHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed at warn level, got %q", buf.String())
	}
	logger.Error("kept")
	if !strings.Contains(buf.String(), "ERROR kept") {
		t.Fatalf("expected error line, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNoopHandlerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected noop logger to be disabled")
	}
}
