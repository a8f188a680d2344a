package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAsyncHandler_DeliversRecords(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	h := NewAsyncHandler(inner, 16, 1)

	log := slog.New(h).With("service", "tutorcore-test")
	log.Info("hello", "k", "v")
	h.Close()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["k"] != "v" || rec["service"] != "tutorcore-test" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestAsyncHandler_DropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	inner := &blockingHandler{release: blocked}
	h := NewAsyncHandler(inner, 1, 1)

	for range 10 {
		_ = h.Handle(context.Background(), slog.Record{})
	}
	close(blocked)
	h.Close()

	if h.DroppedCount() == 0 {
		t.Fatal("expected dropped records when queue is full")
	}
}

func TestAsyncHandler_HandleAfterClose(t *testing.T) {
	h := NewAsyncHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), 4, 1)
	h.Close()
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Fatalf("Handle after Close should drop, not fail: %v", err)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestID(ctx); got != "req-42" {
		t.Fatalf("RequestID = %q, want req-42", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("RequestID on empty context = %q, want empty", got)
	}
}

type blockingHandler struct {
	release chan struct{}
}

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.release
	return nil
}
func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }
