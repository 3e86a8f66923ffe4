package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestBuffer(t *testing.T) {
	var forwarded strings.Builder
	b := &Buffer{Forward: &forwarded}
	fmt.Fprint(b, "hello ")
	fmt.Fprint(b, "world")
	if got := b.Value(); got != "hello world" {
		t.Errorf("Value = %v, want the concatenated output", got)
	}
	if forwarded.String() != "hello world" {
		t.Errorf("forwarded = %q", forwarded.String())
	}
}

func TestDiscard(t *testing.T) {
	d := Discard{}
	if _, err := d.Write([]byte("ignored")); err != nil {
		t.Fatal(err)
	}
	if d.Value() != nil {
		t.Errorf("Value = %v, want nil", d.Value())
	}
}

func TestTimedBuffer(t *testing.T) {
	b := NewTimedBuffer()
	fmt.Fprint(b, "partial")
	fmt.Fprint(b, " line\n")
	fmt.Fprint(b, "trailing without newline")

	lines, ok := b.Value().([]any)
	if !ok || len(lines) != 2 {
		t.Fatalf("Value = %v, want two captured chunks", b.Value())
	}
	first, ok := lines[0].([]any)
	if !ok || len(first) != 2 {
		t.Fatalf("chunk = %v, want [elapsed, text]", lines[0])
	}
	if _, ok := first[0].(float64); !ok {
		t.Errorf("elapsed = %v (%T), want seconds", first[0], first[0])
	}
	if first[1] != "partial line\n" {
		t.Errorf("text = %q", first[1])
	}
	second := lines[1].([]any)
	if second[1] != "trailing without newline" {
		t.Errorf("trailing text = %q", second[1])
	}
}

func TestLogRecorder(t *testing.T) {
	r := NewLogRecorder(slog.LevelInfo)
	logger := slog.New(r)
	logger.Debug("below threshold")
	logger.Info("visible", "k", "v")
	logger.With("common", 1).Warn("derived")

	entries, ok := r.Value().([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("recorded %v, want the two enabled records", r.Value())
	}
	first := entries[0].(map[string]any)
	if first["message"] != "visible" {
		t.Errorf("message = %v", first["message"])
	}
	attrs, _ := first["attrs"].(map[string]any)
	if attrs["k"] != "v" {
		t.Errorf("attrs = %v", first["attrs"])
	}
	if _, ok := first["runtime"].(float64); !ok {
		t.Errorf("runtime = %v (%T), want seconds", first["runtime"], first["runtime"])
	}
	second := entries[1].(map[string]any)
	attrs, _ = second["attrs"].(map[string]any)
	if attrs["common"] != int64(1) {
		t.Errorf("derived handler lost bound attrs: %v", second["attrs"])
	}

	r.Reset()
	if got := r.Value().([]any); len(got) != 0 {
		t.Errorf("entries survived reset: %v", got)
	}
}

func TestLogRecorderEnabled(t *testing.T) {
	r := NewLogRecorder(nil)
	if r.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled at the default info threshold")
	}
	if !r.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled")
	}
}
