package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogRecorder is a slog.Handler that records structured log records as
// JSON-like values, each tagged with the seconds elapsed since the recorder
// was last reset. Attach it to the logger used by the measured computation to
// store its log output alongside the result.
type LogRecorder struct {
	// Level is the minimum level recorded. Records below it are dropped.
	Level slog.Leveler

	mu      sync.Mutex
	start   time.Time
	attrs   []slog.Attr
	group   string
	entries *[]any
}

var _ slog.Handler = (*LogRecorder)(nil)

// NewLogRecorder returns a recorder whose clock starts now.
func NewLogRecorder(level slog.Leveler) *LogRecorder {
	entries := []any{}
	return &LogRecorder{Level: level, start: time.Now(), entries: &entries}
}

// Enabled implements slog.Handler.
func (r *LogRecorder) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if r.Level != nil {
		min = r.Level.Level()
	}
	return level >= min
}

// Handle implements slog.Handler.
func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	entry := map[string]any{
		"level":   record.Level.String(),
		"message": record.Message,
		"time":    record.Time.Format(time.RFC3339Nano),
	}
	attrs := map[string]any{}
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Resolve().Any()
		return true
	})
	if len(attrs) > 0 {
		if r.group != "" {
			entry[r.group] = attrs
		} else {
			entry["attrs"] = attrs
		}
	}
	r.mu.Lock()
	entry["runtime"] = time.Since(r.start).Seconds()
	*r.entries = append(*r.entries, entry)
	r.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler. The derived handler records into the
// same entry list.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := r.clone()
	c.attrs = append(append([]slog.Attr{}, r.attrs...), attrs...)
	return c
}

// WithGroup implements slog.Handler.
func (r *LogRecorder) WithGroup(name string) slog.Handler {
	c := r.clone()
	c.group = name
	return c
}

func (r *LogRecorder) clone() *LogRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &LogRecorder{Level: r.Level, start: r.start, attrs: r.attrs, group: r.group, entries: r.entries}
}

// Reset drops recorded entries and restarts the clock.
func (r *LogRecorder) Reset() {
	r.mu.Lock()
	entries := []any{}
	r.entries = &entries
	r.start = time.Now()
	r.mu.Unlock()
}

// Value returns the recorded entries as a JSON-like value.
func (r *LogRecorder) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(*r.entries))
	copy(out, *r.entries)
	return out
}
