package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"telepipe/internal/services"
)

func TestConsoleHandlerWritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	logger.Info("stage started", String(FieldStage, "scrape"), Int("channels", 3))

	out := buf.String()
	for _, fragment := range []string{"INFO", "stage started", "stage=scrape", "channels=3"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output %q", fragment, out)
		}
	}
}

func TestConsoleHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected info record to be suppressed, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("expected warn record, got %q", out)
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, levelVar))

	ctx := services.WithPipeline(context.Background(), "telegram_pipeline")
	ctx = services.WithRunID(ctx, "run-42")
	ctx = services.WithStage(ctx, "load")

	WithContext(ctx, logger).Info("working")

	out := buf.String()
	for _, fragment := range []string{"pipeline=telegram_pipeline", "run_id=run-42", "stage=load"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output %q", fragment, out)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected nop logger to be disabled")
	}
}
