// Package benchdb memoizes the results of long-running computational
// experiments on a shared filesystem.
//
// Many independent processes, e.g. nodes of a cluster, point a [Benchmark] at
// the same directory. Each invocation is identified by a fingerprint of its
// canonicalized arguments; an invocation that has already been recorded is
// not executed again. Results, invocation parameters, captured output, and a
// deduplicated snapshot of the execution environment are stored append-only,
// so concurrent writers need no locks and can never corrupt each other's
// data. See the internal/logdb package documentation for the storage model.
package benchdb

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/benchdb/benchdb/internal/capture"
	"github.com/benchdb/benchdb/internal/env"
	"github.com/benchdb/benchdb/internal/fingerprint"
	"github.com/benchdb/benchdb/internal/resultdb"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Entry is one stored benchmark result as yielded by iteration.
type Entry = resultdb.Entry

// Options configures a Benchmark. The zero value is ready to use.
type Options struct {
	// ExcludeArgs are argument names excluded from fingerprinting and from
	// the stored parameters: instance objects, callbacks, anything that is
	// not part of the invocation's identity.
	ExcludeArgs []string

	// NewSink builds the capture sink used for stdout and stderr of each
	// run. Defaults to capture.NewTimedBuffer, which stores each output line
	// with its elapsed time.
	NewSink func() capture.Sink

	// LogLevel is the minimum level of structured log records captured from
	// the computation. Defaults to slog.LevelInfo.
	LogLevel slog.Leveler

	// Env supplies environment snapshots. Defaults to a Collector rooted at
	// the working directory.
	Env *env.Collector

	// Logger receives the store's warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Benchmark runs computations and memoizes their results in a shared
// database. Exists, Run, Add, Insert, and iteration are safe with concurrent
// processes; Compact, Clear, Delete, DeleteIf, and Repair must be run by a
// single coordinating process.
type Benchmark struct {
	db       *resultdb.DB
	exclude  map[string]struct{}
	newSink  func() capture.Sink
	logLevel slog.Leveler
	logger   *slog.Logger
}

// New opens or creates the benchmark database at path.
func New(path string, opts *Options) (*Benchmark, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db, err := resultdb.Open(path, &resultdb.Options{Logger: logger, Env: opts.Env})
	if err != nil {
		return nil, err
	}
	exclude := make(map[string]struct{}, len(opts.ExcludeArgs))
	for _, name := range opts.ExcludeArgs {
		exclude[name] = struct{}{}
	}
	newSink := opts.NewSink
	if newSink == nil {
		newSink = func() capture.Sink { return capture.NewTimedBuffer() }
	}
	return &Benchmark{
		db:       db,
		exclude:  exclude,
		newSink:  newSink,
		logLevel: opts.LogLevel,
		logger:   logger,
	}, nil
}

// argData returns the fingerprint and canonicalized parameter data of a call.
func (b *Benchmark) argData(call Call) (string, any) {
	data := fingerprint.Normalize(map[string]any{
		"func": call.Func,
		"args": call.arguments(b.exclude),
	})
	return fingerprint.Of(data), data
}

// Exists reports whether the call has already been recorded.
//
// Caveat of the lock-free design: entries freshly written by other processes
// may not be visible yet, so false negatives are possible; false positives
// are not.
func (b *Benchmark) Exists(call Call) bool {
	fp, _ := b.argData(call)
	return b.db.Contains(fp)
}

// Run executes the call unconditionally and records its result, timing, and
// captured output. A failure of the computation itself is returned wrapped
// with the full canonicalized arguments, and nothing is stored.
func (b *Benchmark) Run(call Call) error {
	fp, argData := b.argData(call)
	stdout := b.newSink()
	stderr := b.newSink()
	recorder := capture.NewLogRecorder(b.logLevel)
	out := &Output{
		Stdout: stdout,
		Stderr: stderr,
		Log:    slog.New(recorder),
	}
	timestamp := time.Now()
	result, err := call.Do(out)
	runtime := time.Since(timestamp)
	if err != nil {
		rendered, yamlErr := yaml.Marshal(argData)
		if yamlErr != nil {
			rendered = []byte(fmt.Sprint(argData))
		}
		b.logger.Error("benchmark computation failed", "func", call.Func, "error", err)
		return fmt.Errorf("benchmark call %q failed with arguments:\n%s%w", call.Func, rendered, err)
	}
	return b.db.Add(fp, argData, map[string]any{
		"result":    result,
		"timestamp": timestamp.Format(time.RFC3339Nano),
		"runtime":   runtime.Seconds(),
		"stdout":    stdout.Value(),
		"stderr":    stderr.Value(),
		"logging":   recorder.Value(),
	})
}

// Add runs the call only if it has not been recorded yet. With concurrent
// processes this check-then-act can race; the worst case is a duplicate
// execution whose result is deduplicated on read, never corrupted storage.
func (b *Benchmark) Add(call Call) error {
	if b.Exists(call) {
		return nil
	}
	return b.Run(call)
}

// Insert stores a raw entry as previously yielded by All.
func (b *Benchmark) Insert(entry Entry) error {
	return b.db.Insert(entry)
}

// All iterates over every stored entry, enriched with its environment
// snapshot. Entries whose snapshot is unresolvable are skipped; see Skipped.
func (b *Benchmark) All() iter.Seq[Entry] {
	return b.db.All()
}

// Front returns the first entry, a convenient preview of the stored shape.
func (b *Benchmark) Front() (Entry, bool) {
	return b.db.Front()
}

// Len returns the number of distinct recorded invocations. It can exceed the
// number of entries yielded by All when environment snapshots are missing.
func (b *Benchmark) Len() int {
	return b.db.Len()
}

// Skipped returns how many entries iteration dropped for unresolvable
// environment snapshots.
func (b *Benchmark) Skipped() int64 {
	return b.db.Skipped()
}

// Fingerprint returns the order-independent content digest of the whole
// database.
func (b *Benchmark) Fingerprint() string {
	return b.db.Fingerprint()
}

// Refresh rescans the store for entries written by other processes since the
// database was opened, shrinking the false-negative window of Exists.
func (b *Benchmark) Refresh() {
	b.db.Refresh()
}

// Watch refreshes the store whenever another writer flushes a fragment, until
// ctx is done. It blocks; run it in its own goroutine.
func (b *Benchmark) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(b.db.ArgFingerprintsPath()); err != nil {
		return fmt.Errorf("failed to watch fingerprint store: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				b.db.Refresh()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("error watching fingerprint store", "error", err)
		}
	}
}

// Compact folds the store's loose fragments into compressed archives. Must be
// run by a single coordinating process with no concurrent writers.
func (b *Benchmark) Compact() error {
	return b.db.Compact()
}

// DeleteIf removes every entry for which cond returns true by rebuilding the
// database. Requires exclusive access.
func (b *Benchmark) DeleteIf(cond func(Entry) bool) error {
	return b.db.Rebuild(func(entry Entry) Entry {
		if cond(entry) {
			return nil
		}
		return entry
	})
}

// Repair rewrites the database, dropping entries that cannot be read back.
// Requires exclusive access.
func (b *Benchmark) Repair() error {
	return b.DeleteIf(func(Entry) bool { return false })
}

// Apply rewrites every entry through transform; returning nil drops the
// entry. Requires exclusive access.
func (b *Benchmark) Apply(transform resultdb.Transform) error {
	return b.db.Rebuild(transform)
}

// Clear removes all entries but keeps the database usable.
func (b *Benchmark) Clear() error {
	return b.db.Clear()
}

// Delete removes the database and all its files.
func (b *Benchmark) Delete() error {
	return b.db.Delete()
}
