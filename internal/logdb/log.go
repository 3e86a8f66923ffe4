package logdb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benchdb/benchdb/internal/fingerprint"
)

// Options configures a Log. The zero value is ready to use.
type Options struct {
	// Logger receives warnings about skipped records and fragments.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// Namer generates this writer's fragment name. Defaults to the real
	// hostname, clock, and the shared random source.
	Namer *Namer
}

func (o *Options) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) namer() *Namer {
	if o != nil && o.Namer != nil {
		return o.Namer
	}
	return &Namer{}
}

// Log is a directory-backed, append-only sequence of JSON-like records.
//
// Appends go to an in-memory buffer and are flushed as newline-delimited JSON
// to this writer's private fragment file. A Log instance is safe for
// concurrent use within one process; across processes, safety comes from each
// writer owning its own fragment (see the package documentation).
type Log struct {
	logger *slog.Logger

	mu       sync.Mutex
	path     string
	fragment string // this writer's private fragment file name
	buffer   []any  // canonicalized records not yet flushed
}

// Open creates or opens the log directory at path and reserves a private
// fragment name for this writer. It fails if path exists as a regular file.
func Open(path string, opts *Options) (*Log, error) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("cannot open log at %s: %w", path, ErrNotDirectory)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", path, err)
	}
	fragment, err := opts.namer().next(path)
	if err != nil {
		return nil, err
	}
	return &Log{
		logger:   opts.logger(),
		path:     path,
		fragment: fragment,
	}, nil
}

// Path returns the backing directory.
func (l *Log) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Buffer canonicalizes record and adds it to the write buffer without
// flushing. It returns the canonical form.
func (l *Log) Buffer(record any) any {
	c := fingerprint.Normalize(record)
	l.mu.Lock()
	l.buffer = append(l.buffer, c)
	l.mu.Unlock()
	return c
}

// Append canonicalizes record, adds it to the buffer, and flushes. It returns
// the canonical form so callers can keep using the stored representation.
func (l *Log) Append(record any) (any, error) {
	c := l.Buffer(record)
	if err := l.Flush(); err != nil {
		return nil, err
	}
	return c, nil
}

// Extend appends a batch of records and flushes once.
func (l *Log) Extend(records []any) ([]any, error) {
	out := make([]any, len(records))
	l.mu.Lock()
	for i, r := range records {
		out[i] = fingerprint.Normalize(r)
		l.buffer = append(l.buffer, out[i])
	}
	l.mu.Unlock()
	if err := l.Flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// Flush writes buffered records to this writer's fragment file. The buffer is
// cleared only after the write is confirmed on disk; a fragment that is
// missing or empty after the write fails with ErrDurability rather than
// silently losing data.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == 0 {
		return nil
	}
	path := filepath.Join(l.path, l.fragment)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open fragment %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, record := range l.buffer {
		if _, err := w.Write(fingerprint.Canonical(record)); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write record to %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write record to %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush fragment %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close fragment %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("fragment %s missing after write: %w", path, ErrDurability)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("fragment %s has zero size after write: %w", path, ErrDurability)
	}
	l.logger.Debug("flushed records", "path", path, "count", len(l.buffer))
	l.buffer = l.buffer[:0]
	return nil
}

// Close flushes any buffered records.
func (l *Log) Close() error {
	return l.Flush()
}

// All returns a restartable iterator over every record: archive members,
// then loose fragments, then the unflushed buffer. There is no ordering
// guarantee across those sources; within one fragment, records appear in the
// order its writer appended them. Lines that fail to parse are logged and
// skipped.
func (l *Log) All() iter.Seq[any] {
	return func(yield func(any) bool) {
		l.mu.Lock()
		dir := l.path
		buffered := make([]any, len(l.buffer))
		copy(buffered, l.buffer)
		l.mu.Unlock()

		if !iterArchive(dir, l.logger, yield) {
			return
		}
		for _, name := range listFragments(dir) {
			path := filepath.Join(dir, name)
			f, err := os.Open(path)
			if err != nil {
				l.logger.Warn("failed to open fragment", "path", path, "error", err)
				continue
			}
			ok := yieldLines(f, path, l.logger, yield)
			_ = f.Close()
			if !ok {
				return
			}
		}
		for _, record := range buffered {
			if !yield(record) {
				return
			}
		}
	}
}

// listFragments returns the loose fragment names in dir, in directory order.
func listFragments(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fragmentExt) {
			names = append(names, e.Name())
		}
	}
	return names
}

// yieldLines parses newline-delimited JSON from r and yields each record,
// skipping malformed lines. Returns false if the consumer stopped early.
func yieldLines(r io.Reader, path string, logger *slog.Logger, yield func(any) bool) bool {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		record, err := parseRecord(line)
		if err != nil {
			// Probably an interrupted write on a shared filesystem.
			logger.Warn("skipping malformed record", "path", path, "error", err)
			continue
		}
		if !yield(record) {
			return false
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read records", "path", path, "error", err)
	}
	return true
}

func parseRecord(line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return fingerprint.Normalize(v), nil
}

// Compact folds every currently-present loose fragment into the compressed
// archive and deletes each fragment once it is durably included. Zero-size
// fragments are skipped with a warning. Not safe to run concurrently with
// another compaction of the same directory; fragments created by other
// writers mid-compaction stay loose and are folded next time.
func (l *Log) Compact() error {
	if err := l.Flush(); err != nil {
		return err
	}
	l.mu.Lock()
	dir := l.path
	l.mu.Unlock()
	return compactDir(dir, l.logger)
}

// Clear empties the buffer and removes the archive and every loose fragment.
// Buffered records held by other writers' processes may still reappear after
// a clear once those writers flush; that is a documented limitation of the
// lock-free design.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = nil
	archive := filepath.Join(l.path, archiveName)
	if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove archive %s: %w", archive, err)
	}
	for _, name := range listFragments(l.path) {
		path := filepath.Join(l.path, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove fragment %s: %w", path, err)
		}
	}
	return nil
}

// Delete clears the log and removes its backing directory.
func (l *Log) Delete() error {
	if err := l.Clear(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("failed to delete log directory %s: %w", l.path, err)
	}
	return nil
}

// Move relocates the backing directory to newPath and repoints the log. It
// fails with ErrDestinationExists before touching any data if newPath is
// already present. Not safe with concurrent writers.
func (l *Log) Move(newPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("cannot move log to %s: %w", newPath, ErrDestinationExists)
	}
	if err := os.Rename(l.path, newPath); err != nil {
		return fmt.Errorf("failed to move log from %s to %s: %w", l.path, newPath, err)
	}
	l.path = newPath
	return nil
}
