// Package capture provides the output-capture collaborators of a benchmark
// run. The store treats captured values as opaque; a sink only has to turn
// whatever was written into a JSON-like value when the run finishes.
//
// Capture is explicit: sinks are passed into the orchestration layer, written
// to by the measured computation, and read out once. Nothing here swaps
// process-global streams.
package capture

import (
	"io"
	"strings"
	"sync"
	"time"
)

// Sink receives a computation's console output and produces the value stored
// alongside its result.
type Sink interface {
	io.Writer
	// Value returns the captured output as a JSON-like value.
	Value() any
}

// Discard drops everything and captures nothing.
type Discard struct{}

func (Discard) Write(p []byte) (int, error) { return len(p), nil }
func (Discard) Value() any                  { return nil }

// Buffer captures output as a single string. If Forward is set, output is
// additionally passed through to it (e.g. the real stdout).
type Buffer struct {
	Forward io.Writer

	mu  sync.Mutex
	buf strings.Builder
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf.Write(p)
	b.mu.Unlock()
	if b.Forward != nil {
		if _, err := b.Forward.Write(p); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (b *Buffer) Value() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TimedBuffer captures output line by line, tagging each line with the
// seconds elapsed since the sink was created. The captured value is a list of
// [elapsed, text] pairs, which costs more space than a plain Buffer but shows
// where the runtime went.
type TimedBuffer struct {
	Forward io.Writer

	mu      sync.Mutex
	start   time.Time
	pending strings.Builder
	lines   []any
}

// NewTimedBuffer returns a TimedBuffer whose clock starts now.
func NewTimedBuffer() *TimedBuffer {
	return &TimedBuffer{start: time.Now()}
}

func (b *TimedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.pending.Write(p)
	if strings.Contains(string(p), "\n") {
		b.flushLocked()
	}
	b.mu.Unlock()
	if b.Forward != nil {
		if _, err := b.Forward.Write(p); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (b *TimedBuffer) flushLocked() {
	if b.pending.Len() == 0 {
		return
	}
	if b.start.IsZero() {
		b.start = time.Now()
	}
	b.lines = append(b.lines, []any{time.Since(b.start).Seconds(), b.pending.String()})
	b.pending.Reset()
}

func (b *TimedBuffer) Value() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
	out := make([]any, len(b.lines))
	copy(out, b.lines)
	return out
}
